package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.stepStarted()
	m.stepFinished("train", "success", 50*time.Millisecond)
	m.stepStarted()
	m.stepFinished("eval", "error", 10*time.Millisecond)
	m.checkpointSaved()
	m.checkpointSaved()
	m.stepSkipped()

	steps := gatherFamily(t, registry, "steppipe_steps_total")
	if steps == nil {
		t.Fatal("steppipe_steps_total not registered")
	}
	byStatus := map[string]float64{}
	for _, metric := range steps.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "status" {
				byStatus[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if byStatus["success"] != 1 {
		t.Errorf("success count = %v, want 1", byStatus["success"])
	}
	if byStatus["error"] != 1 {
		t.Errorf("error count = %v, want 1", byStatus["error"])
	}

	saved := gatherFamily(t, registry, "steppipe_checkpoints_saved_total")
	if saved == nil || saved.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Error("checkpoints_saved_total != 2")
	}

	skipped := gatherFamily(t, registry, "steppipe_resumed_steps_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Error("resumed_steps_skipped_total != 1")
	}

	// Both steps finished, so nothing is in flight.
	inflight := gatherFamily(t, registry, "steppipe_inflight_steps")
	if inflight == nil || inflight.GetMetric()[0].GetGauge().GetValue() != 0 {
		t.Error("inflight_steps != 0 after all steps finished")
	}

	duration := gatherFamily(t, registry, "steppipe_step_duration_seconds")
	if duration == nil {
		t.Fatal("steppipe_step_duration_seconds not registered")
	}
	var observations uint64
	for _, metric := range duration.GetMetric() {
		observations += metric.GetHistogram().GetSampleCount()
	}
	if observations != 2 {
		t.Errorf("duration observations = %d, want 2", observations)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics

	// The runner treats metrics as optional; nil must never panic.
	m.stepStarted()
	m.stepFinished("train", "success", time.Millisecond)
	m.checkpointSaved()
	m.stepSkipped()
}
