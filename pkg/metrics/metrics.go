// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// DispatchCyclesTotal counts dispatch cycles by matched workflow and result.
	DispatchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_cycles_total",
			Help: "Total dispatch cycles by workflow and result status",
		},
		[]string{"workflow", "status"},
	)

	// DispatchDuration tracks end-to-end dispatch latency.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Dispatch cycle duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// ActionOutcomesTotal counts executed actions by type and result.
	ActionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_action_outcomes_total",
			Help: "Total workflow actions by type and result",
		},
		[]string{"action", "result"},
	)

	// ActionDuration tracks workflow action duration.
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_action_duration_seconds",
			Help:    "Workflow action duration in seconds",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)

	// CollaboratorLatency tracks collaborator call latency, including timeouts.
	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_collaborator_latency_seconds",
			Help:    "Collaborator call latency in seconds",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)

	// ClassificationsTotal counts classifications by type.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_classifications_total",
			Help: "Total classifications by type",
		},
		[]string{"type"},
	)

	// ClassificationFallbacksTotal counts messages that fell back to the default classification.
	ClassificationFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_classification_fallbacks_total",
			Help: "Total classifications that fell back to general/low",
		},
	)

	// LLMRequestDuration tracks LLM request duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// RegistryWorkflows tracks loaded workflow definitions.
	RegistryWorkflows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_workflows",
			Help: "Number of loaded workflow definitions",
		},
		[]string{"state"},
	)

	// SessionsExpiredTotal counts sessions archived by the expiry sweep.
	SessionsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_expired_total",
			Help: "Total sessions expired by the sweep",
		},
	)

	// NotificationsTotal counts escalation notifications by sink and result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total escalation notifications by sink and result",
		},
		[]string{"sink", "result"},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDispatch records one dispatch cycle.
func RecordDispatch(workflow, status string, duration float64) {
	if workflow == "" {
		workflow = "none"
	}
	DispatchCyclesTotal.WithLabelValues(workflow, status).Inc()
	DispatchDuration.WithLabelValues(status).Observe(duration)
}

// RecordAction records one executed action.
func RecordAction(action string, success bool, duration float64) {
	ActionOutcomesTotal.WithLabelValues(action, result(success)).Inc()
	ActionDuration.WithLabelValues(action).Observe(duration)
}

// RecordCollaborator records the latency of one collaborator call.
func RecordCollaborator(action string, duration float64) {
	CollaboratorLatency.WithLabelValues(action).Observe(duration)
}

// RecordClassification records the classification used for a message.
func RecordClassification(classificationType string, fallback bool) {
	ClassificationsTotal.WithLabelValues(classificationType).Inc()
	if fallback {
		ClassificationFallbacksTotal.Inc()
	}
}

// RecordLLM records metrics for an LLM request.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// SetRegistrySize records the number of enabled and disabled workflows.
func SetRegistrySize(enabled, total int) {
	RegistryWorkflows.WithLabelValues("enabled").Set(float64(enabled))
	RegistryWorkflows.WithLabelValues("disabled").Set(float64(total - enabled))
}

// RecordExpired records sessions expired by a sweep.
func RecordExpired(n int) {
	SessionsExpiredTotal.Add(float64(n))
}

// RecordNotification records one notification attempt.
func RecordNotification(sink string, success bool) {
	NotificationsTotal.WithLabelValues(sink, result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
