package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	fmt.Println("Telemetry ready")
	// Output: Telemetry ready
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("director").
		WithRunID("run-123").
		WithNodePath("/base_domain/servers/AdminServer")

	logger.Debug("Visiting node")
	logger.WithError(fmt.Errorf("session lost")).Error("Traversal aborted")

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordRunStarted("test")
	tel.Metrics.RecordNodeCompleted("test", "SUCCESS", 2*time.Millisecond)
	tel.Metrics.RecordNodeCompleted("test", "FAILURE", 3*time.Millisecond)
	tel.Metrics.RecordAccessorInvocation("mbean.server", nil)
	tel.Metrics.RecordRunCompleted("test", "FAILURE", 50*time.Millisecond)
	tel.Metrics.RecordError("permanent", "RESOLUTION_FAILED")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventSubscription demonstrates synchronous event delivery.
func Example_eventSubscription() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "disabled"
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s %s\n", event.Kind, event.Message)
	}, telemetry.AtLeast(telemetry.SeverityWarning))

	_ = tel.Events.RunStarted("run-123", "test", "domain")
	_ = tel.Events.NodeCompleted("run-123", "/base_domain/name", "FAILURE", time.Millisecond)

	// Output: node.failed /base_domain/name: FAILURE
}

// Example_runInstrumentation demonstrates instrumenting a complete run.
func Example_runInstrumentation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "disabled"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	start := time.Now()
	ctx, run := telemetry.StartRun(ctx, "run-123", "configure", "domain")

	nodeCtx, node := telemetry.StartNode(ctx, "run-123", "/base_domain", "configure")
	err := telemetry.TraceSession(nodeCtx, "mbean", "set-attribute", func(ctx context.Context) error {
		return nil
	})
	node.End("SUCCESS")

	run.End("SUCCESS", time.Since(start), err)

	fmt.Println("Run instrumentation complete")
	// Output: Run instrumentation complete
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceVersion = "1.2.3"

	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Metrics.Namespace = "pineapple"
	cfg.Events.BufferSize = 10000

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}
