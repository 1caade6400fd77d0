// Package bootstrap wires configuration, logging, storage and the HTTP API
// into a runnable rule engine server.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, "config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
package bootstrap
