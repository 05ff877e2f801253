// Package telemetry groups the observability packages of the metering
// service.
//
// # Components
//
//   - logging: slog handlers that carry request, organization and user IDs
//   - metrics: Prometheus collector for usage, gate, alert and job metrics
//   - tracing: OpenTelemetry spans around recording, gating and reconcile
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	logger, _ := logging.New(logging.Config{Level: "info", Format: "json"})
//	m := metrics.NewCollector("spendwise", prometheus.NewRegistry())
//	tracer, _ := tracing.New(ctx, &cfg.Tracing, version)
//
//	ctx, span := tracer.Start(ctx, "metering.RecordUsage")
//	defer span.End()
//
// The metrics collector and the tracer are safe to use when nil or
// disabled, so components take them as optional dependencies.
package telemetry
