package licensing

import (
	"context"
	"sync"
)

// UsageTracker counts plugin invocations per (plugin, tenant). Counters back
// the demo usage ceiling and metered commercial plans.
type UsageTracker interface {
	// Increment adds one and returns the new count.
	Increment(ctx context.Context, pluginID, tenantID string) (int64, error)
	// Current returns the current count (zero for unseen keys).
	Current(ctx context.Context, pluginID, tenantID string) (int64, error)
}

// MemoryUsage is a process-local UsageTracker.
type MemoryUsage struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryUsage creates an empty MemoryUsage.
func NewMemoryUsage() *MemoryUsage {
	return &MemoryUsage{counts: make(map[string]int64)}
}

// Increment implements UsageTracker.
func (m *MemoryUsage) Increment(_ context.Context, pluginID, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey(pluginID, tenantID)
	m.counts[k]++
	return m.counts[k], nil
}

// Current implements UsageTracker.
func (m *MemoryUsage) Current(_ context.Context, pluginID, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[usageKey(pluginID, tenantID)], nil
}

func usageKey(pluginID, tenantID string) string {
	return "usage:" + pluginID + ":" + tenantID
}
