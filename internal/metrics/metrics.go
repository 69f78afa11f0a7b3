// Package metrics instruments the control plane with Prometheus
// counters/gauges and mounts them, plus a liveness probe, on a tiny
// go-chi mux. This is ambient observability, not the excluded dashboard
// UI: it exposes only /healthz and /metrics, never story or board data.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the orchestrator's Prometheus instruments, each bound to
// its own registry so multiple instances (e.g. one per test) never
// collide on the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	StoriesAssigned   prometheus.Counter
	DuplicatesBlocked prometheus.Counter
	AgentsSpawned     *prometheus.CounterVec
	ManagerTicks      *prometheus.CounterVec
	MergeQueueDepth   *prometheus.GaugeVec
}

// New builds and registers a fresh instrument set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		StoriesAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_stories_assigned_total",
			Help: "Total stories claimed by the scheduler.",
		}),
		DuplicatesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_duplicate_assignments_blocked_total",
			Help: "Total claim attempts rejected by the duplicate-assignment guard.",
		}),
		AgentsSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_agents_spawned_total",
			Help: "Total agents spawned, by role.",
		}, []string{"role"}),
		ManagerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_manager_tick_outcomes_total",
			Help: "Manager daemon tick outcomes, by check and result.",
		}, []string{"check", "result"}),
		MergeQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hive_merge_queue_depth",
			Help: "Current merge-queue depth, by team.",
		}, []string{"team"}),
	}

	registry.MustRegister(m.StoriesAssigned, m.DuplicatesBlocked, m.AgentsSpawned, m.ManagerTicks, m.MergeQueueDepth)
	return m
}

// Mux returns a chi router exposing /healthz and this instance's /metrics
// only.
func (m *Metrics) Mux() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return r
}
