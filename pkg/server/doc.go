// Package server runs the metering HTTP API.
//
// The server mounts the /api/v1 routes of package api next to the
// operational endpoints:
//
//	GET /health    liveness, never touches dependencies
//	GET /ready     readiness, runs the registered dependency checks
//	GET /version   build information
//	GET /metrics   Prometheus metrics, when a collector is configured
//
// Every request passes the middleware chain Recovery, RequestID, Logging
// in that order. Unknown routes are answered with a JSON 404.
//
// # Basic Usage
//
//	srv, err := server.New(server.Config{
//	    Server:  cfg.Server,
//	    API:     api.New(svc, cfg.Server.MaxBodyBytes, logger),
//	    Health:  checker,
//	    Metrics: collector,
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // blocks until ctx is done or Stop is called
package server
