package cmd

import (
	"fmt"

	"ruleengine/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := bootstrap.NewApp(ctx, configFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Shutdown()

			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}
			return app.WaitForShutdown()
		},
	}
}
