package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestServiceMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncWebhookEvent("invoice.paid", OutcomeApplied)
	m.IncWebhookEvent("invoice.paid", OutcomeApplied)
	m.IncQuotaCheck(true)
	m.IncQuotaCheck(false)
	m.IncQuotaCheck(false)
	m.AddPagesRecorded(7)
	m.AddPagesRecorded(-3)
	m.ObserveRequest("/api/v1/usage/check", 200, 20*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got := mustCounter(t, mfs, "genie_webhook_events_total", map[string]string{"type": "invoice.paid", "outcome": OutcomeApplied}); got != 2 {
		t.Fatalf("expected 2 applied events, got %f", got)
	}
	if got := mustCounter(t, mfs, "genie_quota_checks_total", map[string]string{"outcome": OutcomeBlocked}); got != 2 {
		t.Fatalf("expected 2 blocked checks, got %f", got)
	}
	if got := mustCounter(t, mfs, "genie_usage_pages_recorded_total", nil); got != 7 {
		t.Fatalf("expected 7 pages recorded, got %f", got)
	}
	mf := findMetricFamily(mfs, "genie_http_request_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one latency observation")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *ServiceMetrics
	m.IncWebhookEvent("x", OutcomeFailed)
	m.IncQuotaCheck(true)
	m.AddPagesRecorded(1)
	m.ObserveRequest("/", 200, time.Second)

	unregistered := New(nil)
	unregistered.IncQuotaCheck(false)
}

func mustCounter(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	got, err := fetchCounterValue(mfs, name, labels)
	if err != nil {
		t.Fatalf("fetch %s: %v", name, err)
	}
	return got
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
