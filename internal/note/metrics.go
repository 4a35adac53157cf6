package note

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Capture outcomes used as the "status" label
const (
	outcomeSuccess   = "success"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeBusy      = "busy"
)

// Metrics contains Prometheus metrics for captures and the note collection
type Metrics struct {
	capturesTotal   *prometheus.CounterVec
	captureDuration prometheus.Histogram
	notesStored     prometheus.Gauge
	mutationsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on registry
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		capturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docextract_captures_total",
				Help: "Total number of capture attempts",
			},
			[]string{"status"}, // status: success, failed, cancelled, busy
		),
		captureDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "docextract_capture_duration_seconds",
				Help: "Time taken to recognize and extract a document",
				// 250ms to ~2m covers local tesseract through slow vision models
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
		notesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docextract_notes_stored",
				Help: "Number of delivery notes in the collection",
			},
		),
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docextract_store_mutations_total",
				Help: "Total number of committed store mutations",
			},
			[]string{"kind"},
		),
	}

	for _, c := range []prometheus.Collector{m.capturesTotal, m.captureDuration, m.notesStored, m.mutationsTotal} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observeCapture records one capture attempt; nil-safe
func (m *Metrics) observeCapture(status string, seconds float64) {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues(status).Inc()
	if status == outcomeSuccess || status == outcomeFailed {
		m.captureDuration.Observe(seconds)
	}
}

// Track keeps the collection gauges in sync with store; returns the unsubscribe function
func (m *Metrics) Track(store *Store) func() {
	m.notesStored.Set(float64(len(store.List())))
	return store.Subscribe(func(c Change) {
		m.mutationsTotal.WithLabelValues(string(c.Kind)).Inc()
		m.notesStored.Set(float64(c.Count))
	})
}
