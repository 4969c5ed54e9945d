package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scan passes.
type Metrics struct {
	PassesTotal        prometheus.Counter
	PassDuration       prometheus.Histogram
	TargetsTotal       *prometheus.CounterVec
	ReconciledTotal    *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	SweptTotal         prometheus.Counter
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	passes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ssmonitor_scan_passes_total",
			Help: "Total scan passes run for subscribers.",
		},
	)
	passDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ssmonitor_scan_pass_duration_seconds",
			Help:    "Wall time of one subscriber scan pass.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	targets := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ssmonitor_scan_targets_total",
			Help: "Section URLs handled by scan passes, by outcome.",
		},
		[]string{"outcome"},
	)
	reconciled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ssmonitor_reconciled_listings_total",
			Help: "Listings reconciled against stored state, by result.",
		},
		[]string{"result"},
	)
	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ssmonitor_notifications_total",
			Help: "Notifications handed to the notifier, by outcome.",
		},
		[]string{"outcome"},
	)
	swept := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ssmonitor_listings_deactivated_total",
			Help: "Listings deactivated after not being seen for the listing TTL.",
		},
	)

	if reg != nil {
		reg.MustRegister(passes, passDuration, targets, reconciled, notifications, swept)
	}

	return &Metrics{
		PassesTotal:        passes,
		PassDuration:       passDuration,
		TargetsTotal:       targets,
		ReconciledTotal:    reconciled,
		NotificationsTotal: notifications,
		SweptTotal:         swept,
	}
}

// ObservePass records a finished pass.
func (m *Metrics) ObservePass(d time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.Inc()
	m.PassDuration.Observe(d.Seconds())
}

// IncTarget counts one section URL by outcome.
func (m *Metrics) IncTarget(outcome string) {
	if m == nil {
		return
	}
	m.TargetsTotal.WithLabelValues(outcome).Inc()
}

// AddReconciled adds n listings under a result label.
func (m *Metrics) AddReconciled(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconciledTotal.WithLabelValues(result).Add(float64(n))
}

// IncNotification counts one notification by outcome.
func (m *Metrics) IncNotification(outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome).Inc()
}

// AddSwept counts deactivated listings.
func (m *Metrics) AddSwept(n int) {
	if m == nil {
		return
	}
	m.SweptTotal.Add(float64(n))
}
