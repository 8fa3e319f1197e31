// Package telemetry provides logging, tracing, metrics and events for runs
// of the reconciliation engine.
//
// # Components
//
//   - Logger wraps zerolog with run, node, operation and resource fields.
//   - Tracer creates OpenTelemetry spans per run, per visited node and per
//     session call, exported over OTLP/gRPC or to stderr.
//   - Metrics registers Prometheus collectors for runs, node outcomes,
//     accessor invocations, session connects, errors and policy violations.
//   - EventBus delivers events to subscribers in emission order, inline
//     or batched by a background dispatcher.
//
// Telemetry bundles the four and travels in the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx = tel.WithContext(ctx)
//	ctx, run := telemetry.StartRun(ctx, runID, "test", "domain")
//	...
//	run.End("SUCCESS", elapsed, nil)
//
// StartRun and StartNode return nil scopes when the context carries no
// Telemetry; ending a nil scope does nothing.
//
// # Configuration
//
// DefaultConfig logs to stderr in console format and keeps tracing local.
// DevelopmentConfig lowers the level to debug. ProductionConfig switches to
// JSON logs with sampling and an OTLP exporter at a 10% sampling rate.
// The Prometheus registry is served by the API server at /metrics; a
// dedicated listener starts only when Metrics.ListenAddress is set.
package telemetry
