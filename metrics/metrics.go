package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for vetting and monitoring. All methods are safe on a nil receiver
// so components can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	VettingsTotal *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	FeedErrors    *prometheus.CounterVec
	HealthChecks  *prometheus.CounterVec
	RegistrySize  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.VettingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depvet_vettings_total",
			Help: "Total number of completed vetting runs by recommendation",
		},
		[]string{"recommendation"},
	)

	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depvet_stage_duration_seconds",
			Help:    "Duration of vetting stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)

	m.FeedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depvet_feed_errors_total",
			Help: "Total number of failed or timed out external feed queries",
		},
		[]string{"source"},
	)

	m.HealthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depvet_health_checks_total",
			Help: "Total number of registry health checks by resulting status",
		},
		[]string{"status"},
	)

	m.RegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "depvet_registry_dependencies",
			Help: "Number of dependencies in the approval registry",
		},
	)

	m.Registry.MustRegister(
		m.VettingsTotal,
		m.StageDuration,
		m.FeedErrors,
		m.HealthChecks,
		m.RegistrySize,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveVetting(recommendation string) {
	if m == nil {
		return
	}
	m.VettingsTotal.WithLabelValues(recommendation).Inc()
}

func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) FeedError(source string) {
	if m == nil {
		return
	}
	m.FeedErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveHealth(status string) {
	if m == nil {
		return
	}
	m.HealthChecks.WithLabelValues(status).Inc()
}

func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistrySize.Set(float64(n))
}
