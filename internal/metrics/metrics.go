package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	JobsSubmitted     *prometheus.CounterVec
	JobsCompleted     *prometheus.CounterVec
	ProviderRequests  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	WebhookEvents     *prometheus.CounterVec
	CreditsDebited    prometheus.Counter
	CreditsCredited   prometheus.Counter
	MaterializeFallbk prometheus.Counter
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_jobs_submitted_total",
				Help:      "Total generation jobs submitted by outcome.",
			}, []string{"outcome"}),
			JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_jobs_completed_total",
				Help:      "Total generation jobs reaching a terminal state, by state and path.",
			}, []string{"state", "path"}),
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total generation provider API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for generation provider calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_webhook_events_total",
				Help:      "Total payment webhook events by type and outcome.",
			}, []string{"type", "outcome"}),
			CreditsDebited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_debited_total",
				Help:      "Total credits debited for generation jobs.",
			}),
			CreditsCredited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_credited_total",
				Help:      "Total credits added through completed payments.",
			}),
			MaterializeFallbk: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "materialize_fallbacks_total",
				Help:      "Results served from the provider URL because durable storage failed.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.JobsSubmitted,
			metricsInstance.JobsCompleted,
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.WebhookEvents,
			metricsInstance.CreditsDebited,
			metricsInstance.CreditsCredited,
			metricsInstance.MaterializeFallbk,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
