package main

import (
	"fmt"

	"bken/hub/internal/session"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, registry *session.Registry) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("bken-hub %s\n", Version)
		return true
	case "status":
		return cliStatus(registry)
	default:
		return false
	}
}

func cliStatus(registry *session.Registry) bool {
	fmt.Printf("Connections: %d\n", registry.ConnCount())
	fmt.Printf("Sessions: %d\n", registry.SessionCount())
	fmt.Printf("Version: %s\n", Version)
	return true
}
