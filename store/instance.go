// Package store provides durable persistence for plugin installation records
// and plugin-scoped key/value data.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a plugin instance.
type Status string

const (
	StatusUninstalled Status = "uninstalled"
	StatusInstalled   Status = "installed"
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusError       Status = "error"
)

// Valid reports whether s is one of the five known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusUninstalled, StatusInstalled, StatusActive, StatusInactive, StatusError:
		return true
	}
	return false
}

// Instance is the durable record of one (plugin, tenant) installation.
type Instance struct {
	PluginID      string          `json:"plugin_id"`
	TenantID      string          `json:"tenant_id"`
	Status        Status          `json:"status"`
	Version       string          `json:"version"`
	Config        json.RawMessage `json:"config,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"` // definition snapshot at install time
	ErrorMsg      string          `json:"error,omitempty"`
	ActivatedAt   *time.Time      `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time      `json:"deactivated_at,omitempty"`
	InstalledAt   time.Time       `json:"installed_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InstanceStore defines persistence operations for plugin instances.
// Writes are scoped to a single (plugin, tenant) key.
type InstanceStore interface {
	// Upsert creates or replaces the record for (inst.PluginID, inst.TenantID).
	Upsert(ctx context.Context, inst *Instance) error
	// Get returns the record for the key, or ErrNotFound.
	Get(ctx context.Context, pluginID, tenantID string) (*Instance, error)
	// Delete removes the record for the key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, pluginID, tenantID string) error
	// List returns all records, optionally filtered by tenant ("" means all tenants).
	List(ctx context.Context, tenantID string) ([]*Instance, error)
}

// KVStore is the plugin-scoped durable key/value handle exposed to plugin
// hooks. Keys are isolated per (plugin, tenant).
type KVStore interface {
	Put(ctx context.Context, pluginID, tenantID, key string, value []byte) error
	Fetch(ctx context.Context, pluginID, tenantID, key string) ([]byte, error)
	Remove(ctx context.Context, pluginID, tenantID, key string) error
}
