package domain

import "time"

// Status is the health tri-state of an endpoint.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthRecord is a point-in-time snapshot of an endpoint's runtime health.
type HealthRecord struct {
	EndpointID   string
	Status       Status
	Latency      time.Duration
	BlockHeight  uint64
	ErrorCount   uint64
	SuccessCount uint64
	LastCheck    time.Time
}

// HealthTracker is the per-endpoint health state machine. Downgrades require
// consecutive failures (hysteresis); a single success restores healthy.
// It is not safe for concurrent use; the owning endpoint state serializes access.
type HealthTracker struct {
	degradedAfter  int
	unhealthyAfter int

	consecutiveFailures int
	record              HealthRecord
}

// NewHealthTracker creates a tracker starting in the healthy state.
func NewHealthTracker(endpointID string, degradedAfter, unhealthyAfter int) *HealthTracker {
	if degradedAfter <= 0 {
		degradedAfter = 3
	}
	if unhealthyAfter <= degradedAfter {
		unhealthyAfter = degradedAfter + 2
	}
	return &HealthTracker{
		degradedAfter:  degradedAfter,
		unhealthyAfter: unhealthyAfter,
		record: HealthRecord{
			EndpointID: endpointID,
			Status:     StatusHealthy,
		},
	}
}

// RecordSuccess registers a successful call or probe. A blockHeight of zero
// leaves the recorded height untouched.
func (t *HealthTracker) RecordSuccess(latency time.Duration, blockHeight uint64) {
	t.consecutiveFailures = 0
	t.record.Status = StatusHealthy
	t.record.Latency = latency
	t.record.SuccessCount++
	t.record.LastCheck = time.Now()
	if blockHeight > 0 {
		t.record.BlockHeight = blockHeight
	}
}

// RecordFailure registers a failed call or probe and applies the downgrade
// thresholds.
func (t *HealthTracker) RecordFailure() {
	t.consecutiveFailures++
	t.record.ErrorCount++
	t.record.LastCheck = time.Now()

	switch {
	case t.consecutiveFailures >= t.unhealthyAfter:
		t.record.Status = StatusUnhealthy
	case t.consecutiveFailures >= t.degradedAfter:
		t.record.Status = StatusDegraded
	}
}

// Status returns the current tri-state.
func (t *HealthTracker) Status() Status {
	return t.record.Status
}

// Record returns a copy of the current snapshot.
func (t *HealthTracker) Record() HealthRecord {
	return t.record
}

// ResetCounters clears the cumulative counters. Counters never shrink
// otherwise.
func (t *HealthTracker) ResetCounters() {
	t.record.ErrorCount = 0
	t.record.SuccessCount = 0
}

// Reset returns the tracker to a fresh healthy state, clearing counters and
// the failure streak. Used when an endpoint is put back into rotation.
func (t *HealthTracker) Reset() {
	t.ResetCounters()
	t.consecutiveFailures = 0
	t.record.Status = StatusHealthy
}
