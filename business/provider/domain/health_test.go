package domain

import (
	"testing"
	"time"
)

func TestHealthTracker_DowngradeThresholds(t *testing.T) {
	tr := NewHealthTracker("ep-1", 3, 5)

	if tr.Status() != StatusHealthy {
		t.Fatalf("initial status = %s, want healthy", tr.Status())
	}

	tr.RecordFailure()
	tr.RecordFailure()
	if tr.Status() != StatusHealthy {
		t.Errorf("status after 2 failures = %s, want healthy", tr.Status())
	}

	tr.RecordFailure()
	if tr.Status() != StatusDegraded {
		t.Errorf("status after 3 failures = %s, want degraded", tr.Status())
	}

	tr.RecordFailure()
	tr.RecordFailure()
	if tr.Status() != StatusUnhealthy {
		t.Errorf("status after 5 failures = %s, want unhealthy", tr.Status())
	}
}

func TestHealthTracker_SingleSuccessRestores(t *testing.T) {
	tr := NewHealthTracker("ep-1", 3, 5)
	for i := 0; i < 10; i++ {
		tr.RecordFailure()
	}
	if tr.Status() != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", tr.Status())
	}

	tr.RecordSuccess(20*time.Millisecond, 100)
	if tr.Status() != StatusHealthy {
		t.Errorf("status after success = %s, want healthy", tr.Status())
	}

	// Hysteresis restarts: one failure after recovery must not downgrade.
	tr.RecordFailure()
	if tr.Status() != StatusHealthy {
		t.Errorf("status after 1 failure post-recovery = %s, want healthy", tr.Status())
	}
}

func TestHealthTracker_CountersOnlyGrow(t *testing.T) {
	tr := NewHealthTracker("ep-1", 3, 5)

	tr.RecordFailure()
	tr.RecordSuccess(time.Millisecond, 42)
	tr.RecordSuccess(time.Millisecond, 0)

	rec := tr.Record()
	if rec.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", rec.ErrorCount)
	}
	if rec.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", rec.SuccessCount)
	}
	if rec.BlockHeight != 42 {
		t.Errorf("BlockHeight = %d, want 42 (zero height must not overwrite)", rec.BlockHeight)
	}

	tr.ResetCounters()
	rec = tr.Record()
	if rec.ErrorCount != 0 || rec.SuccessCount != 0 {
		t.Errorf("counters after reset = %d/%d, want 0/0", rec.ErrorCount, rec.SuccessCount)
	}
}
