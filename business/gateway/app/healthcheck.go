package app

import (
	"context"
	"sync"
)

// Status is the tri-state health of a component or the whole gateway.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Probe reports one component's current status.
type Probe func(ctx context.Context) Status

// HealthChecker aggregates per-component probes into one overall status.
type HealthChecker struct {
	mu     sync.RWMutex
	probes map[string]Probe
	order  []string
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{probes: make(map[string]Probe)}
}

// Register adds or replaces a component probe.
func (h *HealthChecker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.probes[name]; !ok {
		h.order = append(h.order, name)
	}
	h.probes[name] = probe
}

// CheckAll runs every probe and returns component name to status.
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]Status {
	h.mu.RLock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	probes := make(map[string]Probe, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.RUnlock()

	out := make(map[string]Status, len(names))
	for _, name := range names {
		out[name] = probes[name](ctx)
	}
	return out
}

// GetOverallStatus reduces the component map: unhealthy if any component is
// unhealthy, degraded if any is degraded, healthy otherwise.
func (h *HealthChecker) GetOverallStatus(ctx context.Context) Status {
	overall := StatusHealthy
	for _, status := range h.CheckAll(ctx) {
		switch status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}
