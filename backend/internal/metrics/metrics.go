package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for token requests.
const (
	OutcomeIssued             = "issued"
	OutcomeMethodNotAllowed   = "method_not_allowed"
	OutcomeBadRequest         = "bad_request"
	OutcomeMisconfigured      = "misconfigured"
	OutcomeProvisioningFailed = "provisioning_failed"
)

// Metrics holds the Prometheus collectors of the token service.
type Metrics struct {
	registry *prometheus.Registry

	TokenRequestsTotal   *prometheus.CounterVec
	ProvisioningDuration *prometheus.HistogramVec
	StoreErrorsTotal     prometheus.Counter
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TokenRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcall_token_requests_total",
				Help: "Total number of web call token requests by outcome",
			},
			[]string{"outcome"},
		),
		ProvisioningDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcall_provisioning_duration_seconds",
				Help:    "Duration of provisioning API calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provisioner", "status"},
		),
		StoreErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webcall_store_errors_total",
				Help: "Total number of failures recording issued calls",
			},
		),
	}

	registry.MustRegister(m.TokenRequestsTotal, m.ProvisioningDuration, m.StoreErrorsTotal)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Request counts a token request with the given outcome. Safe on a nil receiver.
func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.TokenRequestsTotal.WithLabelValues(outcome).Inc()
}

// Provisioned observes one provisioning call.
func (m *Metrics) Provisioned(provisioner string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProvisioningDuration.WithLabelValues(provisioner, status).Observe(seconds)
}

// StoreFailed counts a failed call record write.
func (m *Metrics) StoreFailed() {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.Inc()
}
