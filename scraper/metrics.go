package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching and extraction.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDuration        prometheus.Histogram
	ListingsExtractedTotal prometheus.Counter
	RowsSkippedTotal       prometheus.Counter
	RetriesTotal           prometheus.Counter
	ErrorsTotal            *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ssmonitor_fetch_requests_total",
			Help: "Total HTTP requests issued by the fetcher.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ssmonitor_fetch_request_duration_seconds",
			Help:    "HTTP request latency for listing pages.",
			Buckets: prometheus.DefBuckets,
		},
	)
	extracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ssmonitor_listings_extracted_total",
			Help: "Total number of listings extracted from section pages.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ssmonitor_rows_skipped_total",
			Help: "Total number of malformed advertisement rows skipped.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ssmonitor_fetch_retries_total",
			Help: "Total number of retry attempts made by the fetcher.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ssmonitor_fetch_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)

	if reg != nil {
		reg.MustRegister(requests, requestDuration, extracted, skipped, retries, errorsTotal)
	}

	return &Metrics{
		RequestsTotal:          requests,
		RequestDuration:        requestDuration,
		ListingsExtractedTotal: extracted,
		RowsSkippedTotal:       skipped,
		RetriesTotal:           retries,
		ErrorsTotal:            errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddExtracted records a page's extraction counts.
func (m *Metrics) AddExtracted(extracted, skipped int) {
	if m == nil {
		return
	}
	m.ListingsExtractedTotal.Add(float64(extracted))
	m.RowsSkippedTotal.Add(float64(skipped))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
