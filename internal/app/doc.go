// Package app assembles and runs the licensed daemon. It wires the license
// core, the update counter store, the license and health services and the
// HTTP router, and owns their shutdown.
//
// # Initialization Flow
//
//	1. Build the logger unless one is supplied
//	2. Resolve and create paths relative to the base directory
//	3. Initialize OpenTelemetry and the daemon metrics
//	4. Load vendor keys and open the counter store (none, memory, file, redis)
//	5. Create and initialize the license core
//	6. Load the license file; a missing or rejected file leaves the daemon unready
//	7. Start the file watcher when license.watch is set
//	8. Build the router and the HTTP server
//
// # Usage
//
//	a, err := app.New(ctx, cfg, app.Options{})
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// Run returns after ctx is cancelled and Stop has drained the server,
// closed the store and flushed telemetry.
package app
