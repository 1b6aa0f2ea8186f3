package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values
const (
	OutcomeSuccess             = "success"
	OutcomeError               = "error"
	OutcomeInteractionRequired = "interaction_required"
)

// Metrics provides observability for the authentication flow.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	AuthFlow         *prometheus.CounterVec
	MetadataFetch    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the auth metrics with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		AuthFlow: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsite_auth_flow_total",
			Help: "Authentication flow operations by outcome",
		}, []string{"operation", "outcome"}),
		MetadataFetch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsite_metadata_fetch_total",
			Help: "Provider metadata fetch attempts by outcome",
		}, []string{"outcome"}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsite_provider_call_duration_seconds",
			Help:    "Duration of outbound identity provider calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"call"}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// RecordAuthFlow counts one completed flow operation
func (m *Metrics) RecordAuthFlow(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthFlow.WithLabelValues(operation, outcome).Inc()
}

// RecordMetadataFetch counts one metadata fetch attempt
func (m *Metrics) RecordMetadataFetch(outcome string) {
	if m == nil {
		return
	}
	m.MetadataFetch.WithLabelValues(outcome).Inc()
}

// ObserveProviderCall records the duration of an outbound provider call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveProviderCall(call string, start time.Time) {
	if m == nil {
		return
	}
	m.ProviderDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

// Handler serves the registry the metrics were registered with
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
