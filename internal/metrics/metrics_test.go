package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue reads a counter from reg by name and label values
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordOperation("commit", nil, time.Millisecond)
	m.RecordOperation("commit", nil, time.Millisecond)
	m.RecordOperation("commit", errors.New("boom"), time.Millisecond)

	if got := counterValue(t, reg, "contentvcs_operations_total", map[string]string{"op": "commit", "status": "success"}); got != 2 {
		t.Errorf("Expected 2 successful commits, got %v", got)
	}
	if got := counterValue(t, reg, "contentvcs_operations_total", map[string]string{"op": "commit", "status": "error"}); got != 1 {
		t.Errorf("Expected 1 failed commit, got %v", got)
	}
}

func TestRecordMergeAndBackup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordMerge("conflict", 3)
	m.RecordMerge("success", 0)
	m.RecordBackup("initial", nil)
	m.RecordSweep(4, 1)

	if got := counterValue(t, reg, "contentvcs_merge_conflicts_total", nil); got != 3 {
		t.Errorf("Expected 3 conflicts, got %v", got)
	}
	if got := counterValue(t, reg, "contentvcs_merges_total", map[string]string{"status": "success"}); got != 1 {
		t.Errorf("Expected 1 successful merge, got %v", got)
	}
	if got := counterValue(t, reg, "contentvcs_backups_total", map[string]string{"type": "initial", "status": "success"}); got != 1 {
		t.Errorf("Expected 1 initial backup, got %v", got)
	}
	if got := counterValue(t, reg, "contentvcs_backups_swept_total", nil); got != 4 {
		t.Errorf("Expected 4 swept backups, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two engines in one process must not collide
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
