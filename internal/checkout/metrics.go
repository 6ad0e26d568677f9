package checkout

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var fetchBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics holds the cache's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	hits          prometheus.Counter
	shared        prometheus.Counter
	entries       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. If a
// collector is already registered, the existing one is reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refpin",
			Subsystem: "checkout",
			Name:      "fetches_total",
			Help:      "Fetcher invocations by outcome",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refpin",
			Subsystem: "checkout",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent materializing a ref",
			Buckets:   fetchBuckets,
		}, []string{"outcome"}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "refpin",
			Subsystem: "checkout",
			Name:      "hits_total",
			Help:      "Requests served from a ready checkout",
		}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "refpin",
			Subsystem: "checkout",
			Name:      "shared_total",
			Help:      "Requests that joined a fetch already in flight",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "refpin",
			Subsystem: "checkout",
			Name:      "ready_entries",
			Help:      "Number of ready checkouts held by the cache",
		}),
	}

	if reg == nil {
		return m
	}

	m.fetches = register(reg, m.fetches)
	m.fetchDuration = register(reg, m.fetchDuration)
	m.hits = register(reg, m.hits)
	m.shared = register(reg, m.shared)
	m.entries = register(reg, m.entries)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observeFetch(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) hit() {
	if m == nil {
		return
	}
	m.hits.Inc()
}

func (m *Metrics) sharedWait() {
	if m == nil {
		return
	}
	m.shared.Inc()
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}
