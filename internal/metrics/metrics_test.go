package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・指定ラベルのメトリクスを返す。見つからない場合はnil。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordRun_CountsByResultAndObservesDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun(ResultSuccess, 2*time.Second)
	c.RecordRun(ResultSuccess, time.Second)
	c.RecordRun(ResultSkipped, 10*time.Millisecond)

	m := findMetric(t, reg, "biblioteca_runs_total", map[string]string{"result": "success"})
	if m == nil {
		t.Fatal("biblioteca_runs_total{result=success} not found")
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("runs_total{success} = %v, want 2", got)
	}

	h := findMetric(t, reg, "biblioteca_run_duration_seconds", nil)
	if h == nil {
		t.Fatal("biblioteca_run_duration_seconds not found")
	}
	if got := h.GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("sample count = %d, want 3", got)
	}
}

func TestRecordGameChanges_LabelsByOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGameChanges(3, 1, 10)

	want := map[string]float64{"add": 3, "remove": 1, "refresh": 10}
	for op, v := range want {
		m := findMetric(t, reg, "biblioteca_games_changed_total", map[string]string{"op": op})
		if m == nil {
			t.Fatalf("games_changed_total{op=%s} not found", op)
		}
		if got := m.GetCounter().GetValue(); got != v {
			t.Errorf("games_changed_total{op=%s} = %v, want %v", op, got, v)
		}
	}
}

func TestRecordFailureCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAccountFailures(1)
	c.RecordAccountFailures(2)
	c.RecordEnrichmentFailures(4)
	c.RecordGenreErrors(5)

	tests := []struct {
		name string
		want float64
	}{
		{"biblioteca_account_failures_total", 3},
		{"biblioteca_enrichment_failures_total", 4},
		{"biblioteca_genre_errors_total", 5},
	}
	for _, tt := range tests {
		m := findMetric(t, reg, tt.name, nil)
		if m == nil {
			t.Fatalf("%s not found", tt.name)
		}
		if got := m.GetCounter().GetValue(); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRecordSnapshotPublish(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSnapshotPublish(true)
	c.RecordSnapshotPublish(false)
	c.RecordSnapshotPublish(false)

	if m := findMetric(t, reg, "biblioteca_snapshot_publish_total", map[string]string{"result": "success"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("snapshot_publish_total{success} want 1, got %v", m)
	}
	if m := findMetric(t, reg, "biblioteca_snapshot_publish_total", map[string]string{"result": "failure"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("snapshot_publish_total{failure} want 2, got %v", m)
	}
}

func TestRecordUpstreamRequest_StatusLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUpstreamRequest("owned_games", 200)
	c.RecordUpstreamRequest("app_details", 429)
	c.RecordUpstreamRequest("app_details", 0)

	tests := []struct {
		endpoint string
		status   string
	}{
		{"owned_games", "200"},
		{"app_details", "429"},
		{"app_details", StatusTransportError},
	}
	for _, tt := range tests {
		m := findMetric(t, reg, "biblioteca_upstream_requests_total", map[string]string{"endpoint": tt.endpoint, "status": tt.status})
		if m == nil {
			t.Errorf("upstream_requests_total{endpoint=%s,status=%s} not found", tt.endpoint, tt.status)
			continue
		}
		if got := m.GetCounter().GetValue(); got != 1 {
			t.Errorf("upstream_requests_total{endpoint=%s,status=%s} = %v, want 1", tt.endpoint, tt.status, got)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで複数のCollectorを生成できることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordAccountFailures(1)

	if m := findMetric(t, reg2, "biblioteca_account_failures_total", nil); m != nil && m.GetCounter().GetValue() != 0 {
		t.Errorf("reg2 should be unaffected, got %v", m.GetCounter().GetValue())
	}
}

func TestNopCollector_DoesNotPanic(t *testing.T) {
	var c MetricsCollector = NopCollector{}
	c.RecordUpstreamRequest("owned_games", 200)
	c.RecordRun(ResultFailure, time.Second)
	c.RecordGameChanges(1, 2, 3)
	c.RecordAccountFailures(1)
	c.RecordEnrichmentFailures(1)
	c.RecordGenreErrors(1)
	c.RecordSnapshotPublish(false)
}
