package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"attendance-import/internal/app"
	"attendance-import/internal/logging"
)

// main is the entry point for the attendance-import command.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := app.NewAppRunner()
	err := runner.Run(ctx, os.Args[1:])
	if err == nil {
		return
	}

	if errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) || errors.Is(err, app.ErrMissingArgs) {
		fmt.Fprintln(os.Stderr, "")
		runner.Usage(os.Stderr)
	}

	// Make sure the failure is visible even with logging turned off.
	if logging.GetLevel() < logging.Error {
		logging.SetLevel(logging.Error)
	}
	logging.Logf(logging.Error, "attendance-import failed: %v", err)
	stop()
	os.Exit(1)
}
