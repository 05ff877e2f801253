// Package tracing wires OpenTelemetry tracing for the meter.
//
// Spans are exported over OTLP gRPC with a parent-based ratio sampler and
// W3C trace context propagation. When tracing is disabled New returns a
// noop Tracer, so instrumented code calls Start unconditionally:
//
//	tracer, err := tracing.New(ctx, &cfg.Tracing, version)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "metering.record_usage",
//		trace.WithAttributes(tracing.TenantAttributes(orgID, userID)...))
//	defer span.End()
package tracing
