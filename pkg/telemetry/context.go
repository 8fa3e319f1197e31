package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event bus of a process.
type Telemetry struct {
	Config  *Config
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventBus
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Config:  cfg,
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventBus(cfg.Events),
	}, nil
}

// WithContext stores the telemetry and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// Of returns the telemetry stored in ctx, or nil.
func Of(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// StartMetricsServer starts the dedicated metrics listener, if configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Shutdown drains queued events, flushes spans and stops the metrics
// listener. Every component is shut down even if an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Close(ctx),
		t.Tracer.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
	)
}

// RunScope instruments one run. The zero value and a nil scope are inert.
type RunScope struct {
	tel       *Telemetry
	span      trace.Span
	runID     string
	operation string
}

// StartRun opens the run span, counts the run and emits run.started. The
// returned context carries the span and a logger with the run fields.
func StartRun(ctx context.Context, runID, operation, resource string) (context.Context, *RunScope) {
	tel := Of(ctx)
	if tel == nil {
		return ctx, nil
	}

	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, operation, resource)
	ctx = tel.Logger.WithRunID(runID).WithOperation(operation).WithResourceID(resource).WithContext(ctx)

	tel.Metrics.RecordRunStarted(operation)
	_ = tel.Events.RunStarted(runID, operation, resource)

	return ctx, &RunScope{tel: tel, span: span, runID: runID, operation: operation}
}

// End closes the run with the root result state. A non-nil err means the
// run was aborted.
func (s *RunScope) End(state string, elapsed time.Duration, err error) {
	if s == nil || s.tel == nil {
		return
	}
	s.span.SetAttributes(AttrRunState.String(state))
	endSpan(s.span, err)

	s.tel.Metrics.RecordRunCompleted(s.operation, state, elapsed)
	if err != nil {
		_ = s.tel.Events.RunFailed(s.runID, err)
		return
	}
	_ = s.tel.Events.RunCompleted(s.runID, state, elapsed)
}

// NodeScope instruments the visit of one paired node.
type NodeScope struct {
	tel       *Telemetry
	span      trace.Span
	runID     string
	path      string
	operation string
	start     time.Time
}

// StartNode opens the node span.
func StartNode(ctx context.Context, runID, path, operation string) (context.Context, *NodeScope) {
	tel := Of(ctx)
	if tel == nil {
		return ctx, nil
	}
	ctx, span := tel.Tracer.StartNodeSpan(ctx, path, operation)
	return ctx, &NodeScope{
		tel:       tel,
		span:      span,
		runID:     runID,
		path:      path,
		operation: operation,
		start:     time.Now(),
	}
}

// End closes the visit with the node's result state. Only ERROR marks the
// span as failed; FAILURE is an ordinary outcome of a comparison.
func (s *NodeScope) End(state string) {
	if s == nil || s.tel == nil {
		return
	}
	elapsed := time.Since(s.start)

	s.span.SetAttributes(AttrNodeState.String(state))
	var err error
	if state == "ERROR" {
		err = errors.New("node completed with ERROR")
	}
	endSpan(s.span, err)

	s.tel.Metrics.RecordNodeCompleted(s.operation, state, elapsed)
	_ = s.tel.Events.NodeCompleted(s.runID, s.path, state, elapsed)
}

// RecordAccessorInvocation counts an accessor call on a live object.
func RecordAccessorInvocation(ctx context.Context, namespace string, err error) {
	if tel := Of(ctx); tel != nil {
		tel.Metrics.RecordAccessorInvocation(namespace, err)
	}
}

// TraceSession runs fn inside a session span. Connect calls are counted.
func TraceSession(ctx context.Context, kind, call string, fn func(context.Context) error) error {
	tel := Of(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartSessionSpan(ctx, kind, call)
	err := fn(ctx)
	endSpan(span, err)

	if call == "connect" {
		tel.Metrics.RecordSessionConnect(kind, err)
	}
	return err
}
