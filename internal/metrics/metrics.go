package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_requests_total",
			Help: "Total number of chat requests processed",
		},
		[]string{"status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_request_duration_seconds",
			Help:    "Chat request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_quota_rejections_total",
			Help: "Total number of requests denied by the usage quota",
		},
	)

	QuotaStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_quota_store_errors_total",
			Help: "Total number of quota store failures",
		},
	)

	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_upstream_attempts_total",
			Help: "Total number of upstream completion attempts",
		},
		[]string{"credential", "outcome"},
	)

	CredentialsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_credentials_exhausted_total",
			Help: "Total number of dispatches that failed on every credential",
		},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"direction"},
	)

	CredentialPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgate_credential_pool_size",
			Help: "Number of credentials loaded into the pool",
		},
	)
)

func RecordRequest(status string, durationSec float64) {
	RequestsTotal.WithLabelValues(status).Inc()
	RequestDuration.WithLabelValues(status).Observe(durationSec)
}

func RecordTokens(promptTokens, completionTokens int) {
	TokensTotal.WithLabelValues("input").Add(float64(promptTokens))
	TokensTotal.WithLabelValues("output").Add(float64(completionTokens))
}

func RecordQuotaRejection() {
	QuotaRejections.Inc()
}

func RecordQuotaStoreError() {
	QuotaStoreErrors.Inc()
}

func RecordUpstreamAttempt(credential, outcome string) {
	UpstreamAttempts.WithLabelValues(credential, outcome).Inc()
}

func RecordCredentialsExhausted() {
	CredentialsExhausted.Inc()
}

func SetCredentialPoolSize(n int) {
	CredentialPoolSize.Set(float64(n))
}
