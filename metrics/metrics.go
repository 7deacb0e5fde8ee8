// Package metrics exposes pipeline counters and timings via Prometheus.
// Registration uses a per-instance registry so parallel pipelines and
// tests never collide on the default one.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's instruments.
type Metrics struct {
	registry *prometheus.Registry

	// AgentCalls counts agent invocations by stage and exit mode.
	AgentCalls *prometheus.CounterVec

	// AgentDuration observes agent call wall time by stage.
	AgentDuration *prometheus.HistogramVec

	// TasksPlanned counts tasks created by planning.
	TasksPlanned prometheus.Counter

	// FindingsSplit counts findings produced by the reasoning split.
	FindingsSplit prometheus.Counter

	// Validations counts validation verdicts by status.
	Validations *prometheus.CounterVec

	// ProjectsProcessed counts pipeline runs by outcome.
	ProjectsProcessed *prometheus.CounterVec
}

// New builds a metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		AgentCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowaudit",
			Name:      "agent_calls_total",
			Help:      "Agent invocations by stage and exit mode.",
		}, []string{"stage", "exit_mode"}),
		AgentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowaudit",
			Name:      "agent_call_duration_seconds",
			Help:      "Agent call wall time by stage.",
			Buckets:   []float64{1, 5, 15, 60, 180, 600, 1800, 3600},
		}, []string{"stage"}),
		TasksPlanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowaudit",
			Name:      "tasks_planned_total",
			Help:      "Tasks created by the planning stage.",
		}),
		FindingsSplit: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowaudit",
			Name:      "findings_split_total",
			Help:      "Findings produced by the reasoning split.",
		}),
		Validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowaudit",
			Name:      "validations_total",
			Help:      "Validation verdicts by status.",
		}, []string{"status"}),
		ProjectsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowaudit",
			Name:      "projects_processed_total",
			Help:      "Pipeline runs by outcome (ok, partial, error).",
		}, []string{"outcome"}),
	}
}

// ObserveAgentCall records one agent invocation.
func (m *Metrics) ObserveAgentCall(stage, exitMode string, duration time.Duration) {
	m.AgentCalls.WithLabelValues(stage, exitMode).Inc()
	m.AgentDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom servers.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Serve exposes /metrics on addr until ctx is canceled. A closed listener
// on shutdown is not an error.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("metrics listening", "addr", listener.Addr().String())

	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
