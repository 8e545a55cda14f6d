package orchestration

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report coordinator activity.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	streamEvents *prometheus.CounterVec
	runsActive   prometheus.Gauge
}

// MustNewMetrics registers the coordinator collectors with reg. A nil reg
// uses the default registerer. Collectors already registered under the same
// names are reused, so repeated construction against one registry is safe.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "coordinator",
			Name:      "runs_total",
			Help:      "Runs finished, by mode and status.",
		}, []string{"mode", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "coordinator",
			Name:      "run_duration_seconds",
			Help:      "Wall time from engine start to run end.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "coordinator",
			Name:      "stream_events_total",
			Help:      "Engine events framed onto output streams, by event mode.",
		}, []string{"mode"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "coordinator",
			Name:      "runs_active",
			Help:      "Runs currently executing.",
		}),
	}

	m.runs = register(reg, m.runs)
	m.runDuration = register(reg, m.runDuration)
	m.streamEvents = register(reg, m.streamEvents)
	m.runsActive = register(reg, m.runsActive)
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
		panic(err)
	}
	return c
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runFinished(mode string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runsActive.Dec()
	m.runs.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

func (m *Metrics) streamEvent(mode string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(mode).Inc()
}
