package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the sync service's Prometheus instruments.
type Metrics struct {
	// Pushes counts push outcomes.
	// Labels: result (ok, rollback, retried, retry_failed)
	Pushes *prometheus.CounterVec

	// Pulls counts pulls.
	// Labels: mode (incremental, full), result (ok, error)
	Pulls *prometheus.CounterVec

	// PulledEvents counts events newly added by pulls.
	PulledEvents prometheus.Counter

	// Realtime counts realtime arrivals.
	// Labels: outcome (merged, duplicate, dropped)
	Realtime *prometheus.CounterVec

	// StateCache counts derived-state cache lookups.
	// Labels: result (hit, miss)
	StateCache *prometheus.CounterVec

	// DeriveDuration measures full replays.
	DeriveDuration prometheus.Histogram

	// LogSize is the number of events in the local log.
	LogSize prometheus.Gauge
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// creates unregistered instruments, which is what tests and one-shot CLI
// commands use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grove",
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "Event pushes by outcome",
		}, []string{"result"}),
		Pulls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grove",
			Subsystem: "sync",
			Name:      "pulls_total",
			Help:      "Pulls by mode and outcome",
		}, []string{"mode", "result"}),
		PulledEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: "grove",
			Subsystem: "sync",
			Name:      "pulled_events_total",
			Help:      "Events added to the local log by pulls",
		}),
		Realtime: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grove",
			Subsystem: "sync",
			Name:      "realtime_events_total",
			Help:      "Realtime arrivals by outcome",
		}, []string{"outcome"}),
		StateCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grove",
			Subsystem: "derive",
			Name:      "state_cache_total",
			Help:      "Derived-state cache lookups",
		}, []string{"result"}),
		DeriveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "grove",
			Subsystem: "derive",
			Name:      "duration_seconds",
			Help:      "Time to replay the log into derived state",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		LogSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "grove",
			Subsystem: "sync",
			Name:      "log_events",
			Help:      "Events in the local log",
		}),
	}
}
