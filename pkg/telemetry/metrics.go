package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the Prometheus collectors of the engine. A disabled
// Metrics, and a nil one, accepts every call and records nothing.
type Metrics struct {
	cfg      MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	nodesCompleted *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	accessorCalls  *prometheus.CounterVec

	sessionConnects  *prometheus.CounterVec
	errorsByClass    *prometheus.CounterVec
	errorsByCode     *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{cfg: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m.runsStarted = counter("runs_started_total", "Runs started.", "operation")
	m.runsCompleted = counter("runs_completed_total", "Runs completed, by root result state.", "operation", "state")
	m.runDuration = histogram("run_duration_seconds", "Wall time of runs.", "operation")
	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "active_runs", Help: "Runs in progress."})
	m.nodesCompleted = counter("nodes_completed_total", "Visited model nodes, by result state.", "operation", "state")
	m.nodeDuration = histogram("node_duration_seconds", "Wall time of node visits including descendants.", "operation")
	m.accessorCalls = counter("accessor_invocations_total", "Accessor invocations on live objects.", "namespace", "outcome")
	m.sessionConnects = counter("session_connects_total", "Session connection attempts.", "kind", "outcome")
	m.errorsByClass = counter("errors_by_class_total", "Run errors by class.", "class")
	m.errorsByCode = counter("errors_by_code_total", "Run errors by code.", "code")
	m.policyViolations = counter("policy_violations_total", "Policy violations and warnings.", "policy", "severity")

	m.registry = prometheus.NewRegistry()
	if err := registerAll(m.registry,
		m.runsStarted, m.runsCompleted, m.runDuration, m.activeRuns,
		m.nodesCompleted, m.nodeDuration, m.accessorCalls,
		m.sessionConnects, m.errorsByClass, m.errorsByCode, m.policyViolations,
		collectors.NewGoCollector(),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func registerAll(reg *prometheus.Registry, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted(operation string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(operation).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted counts a completed run by root state.
func (m *Metrics) RecordRunCompleted(operation, state string, elapsed time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(operation, state).Inc()
	m.runDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	m.activeRuns.Dec()
}

// RecordNodeCompleted counts a visited node by its result state.
func (m *Metrics) RecordNodeCompleted(operation, state string, elapsed time.Duration) {
	if !m.enabled() {
		return
	}
	m.nodesCompleted.WithLabelValues(operation, state).Inc()
	m.nodeDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordAccessorInvocation counts an accessor call.
func (m *Metrics) RecordAccessorInvocation(namespace string, err error) {
	if !m.enabled() {
		return
	}
	m.accessorCalls.WithLabelValues(namespace, outcome(err)).Inc()
}

// RecordSessionConnect counts a session connection attempt.
func (m *Metrics) RecordSessionConnect(kind string, err error) {
	if !m.enabled() {
		return
	}
	m.sessionConnects.WithLabelValues(kind, outcome(err)).Inc()
}

// RecordError counts a run error by class and, when set, by code.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// RecordPolicyViolation counts a policy finding.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Registry returns the registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves the registry on Metrics.ListenAddress in the
// background. It does nothing when no address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() || m.cfg.ListenAddress == "" {
		return nil
	}

	ln, err := net.Listen("tcp", m.cfg.ListenAddress)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(m.cfg.Path, m.Handler())
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.cfg.ListenAddress).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// Shutdown stops the dedicated metrics server, if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
