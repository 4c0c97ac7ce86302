// Package plugin implements the plugin lifecycle subsystem: the definition
// registry, the per-tenant lifecycle manager, and the hook contract through
// which plugin implementations touch the host.
package plugin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/paymesh/pluginhost/store"
)

// Capability classifies what a plugin provides.
type Capability string

const (
	CapabilityPayment      Capability = "payment"
	CapabilityAuth         Capability = "auth"
	CapabilityNotification Capability = "notification"
	CapabilityStorage      Capability = "storage"
)

// Tier is the commercial licensing requirement of a plugin.
type Tier string

const (
	TierFree       Tier = "free"
	TierCommercial Tier = "commercial"
)

// RouteDef declares one HTTP route a plugin serves under its namespace.
// Path is relative to /plugins/{id}/ and may contain templated segments
// (":param" or "{param}") that match any single literal segment.
type RouteDef struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	HandlerName string `json:"handler"`
	// RequireAuth is advisory metadata for deployments that terminate
	// authentication in front of the host; the route proxy itself carries no
	// auth layer and does not enforce it.
	RequireAuth bool `json:"require_auth,omitempty"`
}

// ResourceLimits are advisory limits declared by a plugin.
type ResourceLimits struct {
	MaxMemoryMB          int `json:"max_memory_mb,omitempty"`
	MaxRequestsPerMinute int `json:"max_requests_per_minute,omitempty"`
}

// Definition is the immutable metadata and behavior of one plugin, loaded
// into the Registry at startup and never mutated afterwards.
type Definition struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Version        string          `json:"version"`
	Capability     Capability      `json:"capability"`
	Routes         []RouteDef      `json:"routes,omitempty"`
	Permissions    []string        `json:"permissions,omitempty"`
	ResourceLimits ResourceLimits  `json:"resource_limits,omitempty"`
	License        Tier            `json:"license"`
	Dependencies   []string        `json:"dependencies,omitempty"`
	ConfigSchema   json.RawMessage `json:"config_schema,omitempty"`

	// Hooks is the behavioral implementation. Plugins register themselves
	// with an explicit constructor reference; nothing is loaded by path.
	Hooks Hooks `json:"-"`
}

// RouteHandler is the signature of a plugin HTTP handler. A returned error is
// logged server-side and mapped to a generic 500 by the route proxy.
type RouteHandler func(w http.ResponseWriter, r *http.Request) error

// Hooks is the lifecycle contract a plugin implementation provides.
// All hooks receive a context carrying the caller's deadline and a HookContext
// bundling everything the plugin may touch in the host.
type Hooks interface {
	Install(ctx context.Context, hc *HookContext) error
	Activate(ctx context.Context, hc *HookContext) error
	Deactivate(ctx context.Context, hc *HookContext) error
	Uninstall(ctx context.Context, hc *HookContext) error

	// DefaultConfig returns the configuration applied beneath operator input.
	DefaultConfig() map[string]any
	// ValidateConfig runs plugin-specific checks after schema validation.
	ValidateConfig(config map[string]any) error
	// Handlers returns the static route handler table, keyed by handler name.
	Handlers() map[string]RouteHandler
}

// HealthChecker is implemented by plugins that support health probes.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HookContext is the sole surface through which a plugin touches the host
// during a lifecycle hook invocation.
type HookContext struct {
	PluginID string
	TenantID string
	UserID   string
	Config   map[string]any
	Logger   *slog.Logger
	KV       ScopedKV

	registerHandler func(name string, h RouteHandler)
}

// RegisterHandler registers (or replaces) a named route handler dynamically.
// Handlers registered here take precedence over the static Handlers table.
// Dynamic registrations live only in process memory: route replay after a
// host restart rebinds from the static Handlers table without re-running
// hooks, so a plugin whose routes must survive restarts has to provide them
// there too.
func (hc *HookContext) RegisterHandler(name string, h RouteHandler) {
	if hc.registerHandler != nil {
		hc.registerHandler(name, h)
	}
}

// ScopedKV is a durable key/value handle scoped to one (plugin, tenant).
type ScopedKV struct {
	store    store.KVStore
	pluginID string
	tenantID string
}

// Put stores value under key within the plugin's scope.
func (kv ScopedKV) Put(ctx context.Context, key string, value []byte) error {
	return kv.store.Put(ctx, kv.pluginID, kv.tenantID, key, value)
}

// Fetch returns the value stored under key, or store.ErrNotFound.
func (kv ScopedKV) Fetch(ctx context.Context, key string) ([]byte, error) {
	return kv.store.Fetch(ctx, kv.pluginID, kv.tenantID, key)
}

// Remove deletes key from the plugin's scope.
func (kv ScopedKV) Remove(ctx context.Context, key string) error {
	return kv.store.Remove(ctx, kv.pluginID, kv.tenantID, key)
}

// BoundRoute is a resolved route ready for binding into the route proxy.
type BoundRoute struct {
	Method      string
	Path        string
	HandlerName string
	Handler     RouteHandler
}

// RouteBinder is the capability the lifecycle manager uses to expose and gate
// plugin routes. Binding is logical: implementations never deregister
// anything from the underlying router.
type RouteBinder interface {
	// BindPluginRoutes makes routes resolvable for pluginID. Rebinding the
	// same (method, path, handler name) is a no-op; a handler-name mismatch
	// for an existing (method, path) is a conflict.
	BindPluginRoutes(pluginID string, routes []BoundRoute) error
	// UnbindPluginRoutes removes pluginID's route table.
	UnbindPluginRoutes(pluginID string)
}
