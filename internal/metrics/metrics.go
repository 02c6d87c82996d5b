// Package metrics exposes Prometheus instrumentation for the orchestrator.
// Collectors are registered on a private registry so multiple instances can
// coexist in one process.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "foreman"

// Metrics holds all collectors.
type Metrics struct {
	reg *prometheus.Registry

	// Lifecycle
	TasksEnqueued   prometheus.Counter
	TasksDispatched prometheus.Counter
	TasksRequeued   prometheus.Counter
	TasksCompleted  prometheus.Counter
	TasksFailed     prometheus.Counter
	QCRuns          *prometheus.CounterVec
	ActiveAgents    prometheus.Gauge
	QueueDepth      prometheus.Gauge

	// Graph execution
	NodesStarted   prometheus.Counter
	NodesCompleted prometheus.Counter
	NodesFailed    prometheus.Counter
	NodesSkipped   prometheus.Counter
	GateApprovals  prometheus.Counter
	DagsCompleted  *prometheus.CounterVec
}

// New creates a metrics set backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		TasksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks accepted into the backlog.",
		}),
		TasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Tasks handed to an agent.",
		}),
		TasksRequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_requeued_total",
			Help:      "Tasks returned to the backlog after failed verification or rejection.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks that reached the done state.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Tasks that reached the failed state.",
		}),
		QCRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qc_runs_total",
			Help:      "Verification runs by result.",
		}, []string{"result"}),
		ActiveAgents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_agents",
			Help:      "Tasks currently in an active state.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks waiting in the backlog queue.",
		}),

		NodesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dag_nodes_started_total",
			Help:      "Graph nodes started.",
		}),
		NodesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dag_nodes_completed_total",
			Help:      "Graph nodes completed successfully.",
		}),
		NodesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dag_nodes_failed_total",
			Help:      "Graph nodes that failed.",
		}),
		NodesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dag_nodes_skipped_total",
			Help:      "Graph nodes skipped on dead branches.",
		}),
		GateApprovals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_approvals_total",
			Help:      "Manual gates approved by an operator.",
		}),
		DagsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dags_completed_total",
			Help:      "Graphs that reached a terminal state, by status.",
		}, []string{"status"}),
	}
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve runs an HTTP listener exposing /metrics until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
