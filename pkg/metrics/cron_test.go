package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRunOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveRun("reconcile", nil, 250*time.Millisecond)
	m.ObserveRun("reconcile", errors.New("registry down"), time.Second)
	m.IncSkipped("reconcile")
	m.IncSkipped("archive")

	for _, tc := range []struct {
		result string
		want   float64
	}{
		{ResultSuccess, 1},
		{ResultFailure, 1},
		{ResultSkipped, 1},
	} {
		got, ok := counter(t, reg, "sorn_cron_job_runs_total", map[string]string{"job": "reconcile", "result": tc.result})
		if !ok || got != tc.want {
			t.Fatalf("%s: expected %v, got %v (found=%v)", tc.result, tc.want, got, ok)
		}
	}

	hist := series(t, reg, "sorn_cron_job_duration_seconds", map[string]string{"job": "reconcile"})
	if hist == nil || hist.GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("expected two duration samples, got %v", hist)
	}
	if series(t, reg, "sorn_cron_job_duration_seconds", map[string]string{"job": "archive"}) != nil {
		t.Fatalf("skipped runs should not observe duration")
	}

	last := series(t, reg, "sorn_cron_job_last_success_timestamp_seconds", map[string]string{"job": "reconcile"})
	if last == nil || last.GetGauge().GetValue() <= 0 {
		t.Fatalf("expected last success timestamp, got %v", last)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("job", nil, time.Second)
	m.IncSkipped("job")
	NewCronJobMetrics(nil).ObserveRun("job", errors.New("x"), 0)
	NewLifecycleMetrics(nil).IncTransition("a", "b")
	NewDeliveryMetrics(nil).IncNotification("email", true)
}

func TestEmptyLabelsAreNormalized(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCronJobMetrics(reg).IncSkipped("")
	if _, ok := counter(t, reg, "sorn_cron_job_runs_total", map[string]string{"job": "unknown", "result": ResultSkipped}); !ok {
		t.Fatalf("expected empty job name to be reported as unknown")
	}
}

// series returns the sample of family name whose labels include want, or
// nil when there is none.
func series(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabels(metric, want) {
				return metric
			}
		}
	}
	return nil
}

func counter(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) (float64, bool) {
	t.Helper()
	metric := series(t, reg, name, want)
	if metric == nil {
		return 0, false
	}
	return metric.GetCounter().GetValue(), true
}

func hasLabels(metric *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if value, ok := want[pair.GetName()]; ok && value == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
