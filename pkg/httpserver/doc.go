// Package httpserver runs the ops HTTP endpoint with graceful shutdown and
// provides liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(srv.Serve(ctx, router))
package httpserver
