package receipt

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/receipt-extractor/internal/batch"
)

// Metrics holds the Prometheus collectors for batch processing.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	files    *prometheus.CounterVec
	batches  *prometheus.CounterVec
	rows     prometheus.Counter
	duration prometheus.Histogram
	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_extractor_files_total",
				Help: "Files processed, by result.",
			},
			[]string{"result"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_extractor_batches_total",
				Help: "Batches processed, by status.",
			},
			[]string{"status"},
		),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "receipt_extractor_rows_total",
			Help: "Canonical rows produced.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "receipt_extractor_extraction_duration_seconds",
			Help:    "Time spent extracting a single file.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{m.files, m.batches, m.rows, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FileDone implements batch.Observer
func (m *Metrics) FileDone(outcome batch.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case outcome.OK() && outcome.Fragment == "":
		result = "empty"
	case !outcome.OK():
		result = "failed"
	}
	m.files.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// BatchDone counts a finished batch
func (m *Metrics) BatchDone(status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
}

// RowsMerged counts rows added to a table
func (m *Metrics) RowsMerged(n int) {
	if m == nil {
		return
	}
	m.rows.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
