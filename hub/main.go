// Command hub is the relay server: it accepts websocket connections, groups
// them into named sessions, and fans out per-session traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"bken/hub/internal/httpserver"
	"bken/hub/internal/session"

	"golang.org/x/sync/errgroup"
)

// Version is the hub's reported build version.
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], session.NewRegistry()) {
			return
		}
	}

	configureLogging()

	port := flag.Int("port", defaultPort, "listen port")
	flag.Parse()

	registry := session.NewRegistry()
	srv := httpserver.New(registry)
	addr := fmt.Sprintf("0.0.0.0:%d", *port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("hub listening", "addr", addr)
		return srv.Run(gctx, addr)
	})

	if err := g.Wait(); err != nil {
		slog.Error("hub exited with error", "err", err)
		os.Exit(1)
	}
}

// configureLogging sets the default slog handler's level from BKEN_LOG_LEVEL
// (debug, info, warn, error; default info).
func configureLogging() {
	level := slog.LevelInfo
	switch os.Getenv("BKEN_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
