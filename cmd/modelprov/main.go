package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"modelprov/internal/cli"
)

func main() {
	// Ctrl+C / SIGTERM cancel the in-flight step
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
