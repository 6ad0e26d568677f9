package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run statuses recorded by Metrics.
const (
	RunSuccess = "success" // every target resolved and fetched
	RunPartial = "partial" // at least one target failed
	RunFailure = "failure" // the run itself failed
)

var runBuckets = []float64{1, 5, 10, 15, 30, 60, 120, 300}

// Metrics holds run-level collectors for generation. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	completed   *prometheus.GaugeVec
	failed      *prometheus.GaugeVec
	lastRun     prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// skips registration. Collectors already registered are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refpin",
			Subsystem: "generate",
			Name:      "runs_total",
			Help:      "Generation runs by status",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refpin",
			Subsystem: "generate",
			Name:      "duration_seconds",
			Help:      "Time taken by a generation run",
			Buckets:   runBuckets,
		}, []string{"status"}),
		completed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "refpin",
			Subsystem: "generate",
			Name:      "targets_completed",
			Help:      "Targets resolved and fetched in the last run",
		}, []string{"environment"}),
		failed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "refpin",
			Subsystem: "generate",
			Name:      "targets_failed",
			Help:      "Targets that failed in the last run",
		}, []string{"environment"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "refpin",
			Subsystem: "generate",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last generation run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "refpin",
			Subsystem: "generate",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last run in which every target succeeded",
		}),
	}

	if reg == nil {
		return m
	}

	m.runs = register(reg, m.runs)
	m.duration = register(reg, m.duration)
	m.completed = register(reg, m.completed)
	m.failed = register(reg, m.failed)
	m.lastRun = register(reg, m.lastRun)
	m.lastSuccess = register(reg, m.lastSuccess)
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

// observeRun records one finished run. Per-environment gauges are reset
// so environments absent from this run do not report stale counts.
func (m *Metrics) observeRun(start time.Time, result *GenerateResult, err error) {
	if m == nil {
		return
	}
	now := time.Now()

	status := RunSuccess
	switch {
	case err != nil:
		status = RunFailure
	case result != nil && len(result.Errors) > 0:
		status = RunPartial
	}

	m.runs.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(now.Sub(start).Seconds())
	m.lastRun.Set(float64(now.Unix()))
	if status == RunSuccess {
		m.lastSuccess.Set(float64(now.Unix()))
	}

	if result == nil {
		return
	}
	m.completed.Reset()
	m.failed.Reset()
	for _, t := range result.Targets {
		m.completed.WithLabelValues(t.Request.Env).Inc()
	}
	for _, e := range result.Errors {
		m.failed.WithLabelValues(e.Request.Env).Inc()
	}
}
