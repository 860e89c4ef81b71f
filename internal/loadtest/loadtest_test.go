package loadtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/apprise/tracksync/internal/schema"
)

func newFixture(t *testing.T, projects, tasks int) *Fixture {
	t.Helper()
	f, err := NewFixture(context.Background(), filepath.Join(t.TempDir(), "load.db"), projects, tasks, nil)
	if err != nil {
		t.Fatalf("NewFixture failed: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestNewFixture(t *testing.T) {
	f := newFixture(t, 12, 40)

	if len(f.ClientIDs) != 3 {
		t.Errorf("expected 3 clients, got %d", len(f.ClientIDs))
	}
	if got := len(f.Remote.List(schema.KindProject)); got != 12 {
		t.Errorf("expected 12 remote projects, got %d", got)
	}
	if got := len(f.Remote.List(schema.KindTask)); got != 40 {
		t.Errorf("expected 40 remote tasks, got %d", got)
	}

	dirty, err := f.dirtyCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dirty != 0 {
		t.Errorf("expected a clean store after the initial pass, got %d dirty", dirty)
	}
}

func TestNewFixture_RejectsEmpty(t *testing.T) {
	if _, err := NewFixture(context.Background(), filepath.Join(t.TempDir(), "x.db"), 0, 10, nil); err == nil {
		t.Error("expected an error for zero projects")
	}
}

func TestRunEditorsDuringSync(t *testing.T) {
	f := newFixture(t, 5, 50)

	report, err := f.RunEditorsDuringSync(context.Background(), 5, 20)
	if err != nil {
		t.Fatalf("RunEditorsDuringSync failed: %v", err)
	}

	if report.Edits.TotalOps != 100 {
		t.Errorf("expected 100 edits, got %d", report.Edits.TotalOps)
	}
	if err := report.Healthy(); err != nil {
		t.Errorf("run did not end fully synced: %v", err)
	}
	if report.Passes.TotalOps == 0 {
		t.Error("expected at least one pass")
	}

	t.Logf("Edits: p50=%v p99=%v, passes=%d drain=%d",
		report.Edits.P50, report.Edits.P99, report.Passes.TotalOps, report.DrainPasses)
}

func TestRunEditorsDuringSync_Stress(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	f := newFixture(t, 20, 300)

	report, err := f.RunEditorsDuringSync(context.Background(), 20, 50)
	if err != nil {
		t.Fatalf("RunEditorsDuringSync failed: %v", err)
	}
	if err := report.Healthy(); err != nil {
		t.Errorf("run did not end fully synced: %v", err)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("p50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("p99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("mean = %v, want 50.5ms", stats.Mean)
	}
	if stats.TotalOps != 100 {
		t.Errorf("total = %d", stats.TotalOps)
	}

	if empty := computeLatencyStats(nil); empty.TotalOps != 0 {
		t.Errorf("empty stats total = %d", empty.TotalOps)
	}
}

func TestReportHealthy(t *testing.T) {
	if err := (&Report{Edits: &LatencyStats{}}).Healthy(); err != nil {
		t.Errorf("clean report: %v", err)
	}
	if err := (&Report{FinalDirty: 2, Mismatches: 1}).Healthy(); err == nil {
		t.Error("expected an error for a dirty report")
	}
}
