// Package main is the entry point for the rule engine.
package main

import (
	"context"
	"fmt"
	"os"

	"ruleengine/bootstrap"
	"ruleengine/cmd"
)

// run starts the API server with the default configuration search.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	err = app.WaitForShutdown()
	app.Shutdown()
	return err
}

func main() {
	// With arguments, run as a CLI command
	if len(os.Args) > 1 {
		if err := cmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
