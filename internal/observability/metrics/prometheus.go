// Package metrics provides Prometheus metrics for the transmission engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	TransmissionsCreated   prometheus.Counter
	TransmissionsDelivered *prometheus.CounterVec
	TransmissionsFailed    *prometheus.CounterVec
	DispatchDuration       *prometheus.HistogramVec
	PendingTransmissions   prometheus.Gauge
	RefillsApproved        prometheus.Counter
	RefillsDenied          *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		TransmissionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transmissions_created_total",
			Help: "Total transmission ledger entries created",
		}),
		TransmissionsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transmissions_delivered_total",
			Help: "Total transmissions delivered, by channel",
		}, []string{"channel"}),
		TransmissionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transmissions_failed_total",
			Help: "Total failed transmission attempts, by channel",
		}, []string{"channel"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transmission_dispatch_duration_seconds",
			Help:    "Channel dispatch duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"}),
		PendingTransmissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transmissions_pending",
			Help: "Transmissions currently awaiting dispatch",
		}),
		RefillsApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refills_approved_total",
			Help: "Total refill requests approved",
		}),
		RefillsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refills_denied_total",
			Help: "Total refill requests denied, by reason",
		}, []string{"reason"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.TransmissionsCreated,
		m.TransmissionsDelivered,
		m.TransmissionsFailed,
		m.DispatchDuration,
		m.PendingTransmissions,
		m.RefillsApproved,
		m.RefillsDenied,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
