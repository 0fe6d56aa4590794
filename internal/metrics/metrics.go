// Package metrics exposes the sync loop and reconciler's internal
// counters as prometheus collectors, served on the bridge router's
// /metrics route.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collectors struct {
	SyncTickDuration  prometheus.Histogram
	OrphansAdopted    prometheus.Counter
	RPCErrors         prometheus.Counter
	ReconcileFailures prometheus.Counter

	registry *prometheus.Registry
}

func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	c := &Collectors{
		SyncTickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "flamingo",
			Subsystem: "syncloop",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one sync loop reconciliation tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		OrphansAdopted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "flamingo",
			Subsystem: "reconciler",
			Name:      "orphans_adopted_total",
			Help:      "Number of engine-side downloads adopted as untracked tasks.",
		}),
		RPCErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "flamingo",
			Subsystem: "engine",
			Name:      "rpc_errors_total",
			Help:      "Number of JSON-RPC calls to the engine that returned an error.",
		}),
		ReconcileFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "flamingo",
			Subsystem: "reconciler",
			Name:      "failures_total",
			Help:      "Number of reconciliation passes that returned an error.",
		}),
	}
	c.registry = reg
	return c
}

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// TimeTick records a sync loop tick's wall-clock duration.
func (c *Collectors) TimeTick(fn func()) {
	start := time.Now()
	fn()
	c.SyncTickDuration.Observe(time.Since(start).Seconds())
}
