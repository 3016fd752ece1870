package main

// defaultPort is the hub's default listen port.
const defaultPort = 8080
