package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "standby"

// Metrics exposes Prometheus collectors for the refresh loop and the cache.
type Metrics struct {
	fetches      *prometheus.CounterVec
	fetchLatency prometheus.Histogram
	backoffDelay prometheus.Gauge
	lastSuccess  prometheus.Gauge
	eventCached  prometheus.Gauge
	signedIn     prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the package-level instance registered with the global
// Prometheus registry. Collectors are created once to avoid duplicate
// registration panics.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs Metrics on reg, panicking on registration errors.
// Tests should pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "fetches_total",
			Help:      "Calendar fetch attempts by trigger and result.",
		}, []string{"trigger", "result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching the next event.",
			Buckets:   prometheus.DefBuckets,
		}),
		backoffDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "next_delay_seconds",
			Help:      "Delay before the next scheduled fetch.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch.",
		}),
		eventCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "event_present",
			Help:      "1 when a next event is cached, 0 otherwise.",
		}),
		signedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "signed_in",
			Help:      "1 while an account is signed in.",
		}),
	}
	reg.MustRegister(m.fetches, m.fetchLatency, m.backoffDelay, m.lastSuccess, m.eventCached, m.signedIn)
	return m
}

// ObserveFetch records one fetch attempt. A nil receiver is a no-op.
func (m *Metrics) ObserveFetch(trigger string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.lastSuccess.Set(float64(time.Now().Unix()))
	}
	m.fetches.WithLabelValues(trigger, result).Inc()
	m.fetchLatency.Observe(took.Seconds())
}

// SetNextDelay records the wait before the next scheduled fetch.
func (m *Metrics) SetNextDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.backoffDelay.Set(d.Seconds())
}

// SetEventCached records whether the cache slot is filled.
func (m *Metrics) SetEventCached(present bool) {
	if m == nil {
		return
	}
	m.eventCached.Set(boolToFloat(present))
}

// SetSignedIn records whether an account is signed in.
func (m *Metrics) SetSignedIn(signedIn bool) {
	if m == nil {
		return
	}
	m.signedIn.Set(boolToFloat(signedIn))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
