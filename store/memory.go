package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory InstanceStore and KVStore used in tests and as
// a fallback when no database path is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[instanceKey]*Instance
	kv        map[kvKey][]byte
}

type instanceKey struct{ pluginID, tenantID string }

type kvKey struct{ pluginID, tenantID, key string }

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[instanceKey]*Instance),
		kv:        make(map[kvKey][]byte),
	}
}

// Upsert implements InstanceStore.
func (m *MemoryStore) Upsert(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cp := *inst
	cp.UpdatedAt = now
	if cp.InstalledAt.IsZero() {
		cp.InstalledAt = now
	}
	inst.UpdatedAt = cp.UpdatedAt
	inst.InstalledAt = cp.InstalledAt
	m.instances[instanceKey{inst.PluginID, inst.TenantID}] = &cp
	return nil
}

// Get implements InstanceStore.
func (m *MemoryStore) Get(_ context.Context, pluginID, tenantID string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceKey{pluginID, tenantID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

// Delete implements InstanceStore.
func (m *MemoryStore) Delete(_ context.Context, pluginID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceKey{pluginID, tenantID})
	return nil
}

// List implements InstanceStore.
func (m *MemoryStore) List(_ context.Context, tenantID string) ([]*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Instance
	for k, inst := range m.instances {
		if tenantID != "" && k.tenantID != tenantID {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PluginID != result[j].PluginID {
			return result[i].PluginID < result[j].PluginID
		}
		return result[i].TenantID < result[j].TenantID
	})
	return result, nil
}

// Put implements KVStore.
func (m *MemoryStore) Put(_ context.Context, pluginID, tenantID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.kv[kvKey{pluginID, tenantID, key}] = cp
	return nil
}

// Fetch implements KVStore.
func (m *MemoryStore) Fetch(_ context.Context, pluginID, tenantID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[kvKey{pluginID, tenantID, key}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Remove implements KVStore.
func (m *MemoryStore) Remove(_ context.Context, pluginID, tenantID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, kvKey{pluginID, tenantID, key})
	return nil
}
