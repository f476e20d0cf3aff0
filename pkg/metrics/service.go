package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "genie"

// Outcome labels shared by the counters below.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
	OutcomeAllowed   = "allowed"
	OutcomeBlocked   = "blocked"
)

// ServiceMetrics records webhook, quota and HTTP activity. A nil receiver
// or one built without a registerer is a no-op.
type ServiceMetrics struct {
	webhookEvents  *prometheus.CounterVec
	quotaChecks    *prometheus.CounterVec
	pagesRecorded  prometheus.Counter
	requestLatency *prometheus.HistogramVec
}

// New registers the service metrics on the provided registerer.
func New(reg prometheus.Registerer) *ServiceMetrics {
	if reg == nil {
		return &ServiceMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Verified payment-processor events by type and outcome.",
	}, []string{"type", "outcome"})
	quotaChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_checks_total",
		Help:      "Quota checks by outcome.",
	}, []string{"outcome"})
	pagesRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_pages_recorded_total",
		Help:      "Pages recorded against usage ledgers.",
	})
	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
	reg.MustRegister(webhookEvents, quotaChecks, pagesRecorded, requestLatency)
	return &ServiceMetrics{
		webhookEvents:  webhookEvents,
		quotaChecks:    quotaChecks,
		pagesRecorded:  pagesRecorded,
		requestLatency: requestLatency,
	}
}

func (m *ServiceMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *ServiceMetrics) IncQuotaCheck(allowed bool) {
	if m == nil || m.quotaChecks == nil {
		return
	}
	outcome := OutcomeBlocked
	if allowed {
		outcome = OutcomeAllowed
	}
	m.quotaChecks.WithLabelValues(outcome).Inc()
}

func (m *ServiceMetrics) AddPagesRecorded(pages int) {
	if m == nil || m.pagesRecorded == nil || pages <= 0 {
		return
	}
	m.pagesRecorded.Add(float64(pages))
}

func (m *ServiceMetrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil || m.requestLatency == nil {
		return
	}
	m.requestLatency.WithLabelValues(normalizeLabel(route), statusClass(status)).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
