// Package metrics exposes low-cardinality reconciliation metrics.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the const labels attached to every metric.
type Config struct {
	ServiceName string
	Environment string
}

type ReconcileMetrics struct {
	passDuration      prometheus.Histogram
	servicesProcessed *prometheus.CounterVec
	autoBuyPurchases  prometheus.Counter
	breakerOpen       prometheus.Gauge
	upstreamDuration  *prometheus.HistogramVec
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

func Reconcile() *ReconcileMetrics {
	return ReconcileWithConfig(Config{})
}

func ReconcileWithConfig(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = newReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

func ResetReconcileMetricsForTest() {
	reconcileMetricsOnce = sync.Once{}
	reconcileMetrics = nil
}

func newReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "easydcim-traffic"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	passDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "traffic_reconcile_pass_duration_seconds",
			Help:        "Duration of a full reconciliation pass.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			ConstLabels: constLabels,
		},
	)

	servicesProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "traffic_reconcile_services_total",
			Help:        "Services processed per pass by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // ok | limited | skipped | failed
	)

	autoBuyPurchases := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "traffic_autobuy_purchases_total",
			Help:        "Automatic quota top-up purchases completed.",
			ConstLabels: constLabels,
		},
	)

	breakerOpen := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "traffic_breaker_open",
			Help:        "Whether the upstream circuit breaker is currently open.",
			ConstLabels: constLabels,
		},
	)

	upstreamDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "traffic_upstream_request_duration_seconds",
			Help:        "Upstream DCIM API request duration.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "status"},
	)

	registerer.MustRegister(
		passDuration,
		servicesProcessed,
		autoBuyPurchases,
		breakerOpen,
		upstreamDuration,
	)

	return &ReconcileMetrics{
		passDuration:      passDuration,
		servicesProcessed: servicesProcessed,
		autoBuyPurchases:  autoBuyPurchases,
		breakerOpen:       breakerOpen,
		upstreamDuration:  upstreamDuration,
	}
}

func (m *ReconcileMetrics) ObservePass(duration time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.Observe(duration.Seconds())
}

func (m *ReconcileMetrics) IncServiceProcessed(result string) {
	if m == nil {
		return
	}
	m.servicesProcessed.WithLabelValues(result).Inc()
}

func (m *ReconcileMetrics) IncAutoBuyPurchase() {
	if m == nil {
		return
	}
	m.autoBuyPurchases.Inc()
}

func (m *ReconcileMetrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.breakerOpen.Set(value)
}

func (m *ReconcileMetrics) ObserveUpstream(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}
