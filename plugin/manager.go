package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paymesh/pluginhost/licensing"
	"github.com/paymesh/pluginhost/metrics"
	"github.com/paymesh/pluginhost/store"
	"github.com/paymesh/pluginhost/tenant"
)

// DefaultHookTimeout bounds each lifecycle hook invocation.
const DefaultHookTimeout = 30 * time.Second

// LicenseValidator is the gate consulted before installing commercial plugins.
type LicenseValidator interface {
	Validate(ctx context.Context, req licensing.ValidateRequest) (*licensing.Grant, error)
}

// InstallOptions are the operator-supplied parameters for Install.
type InstallOptions struct {
	TenantID     string
	UserID       string
	Config       map[string]any
	LicenseKey   string
	AutoActivate bool
	// Force allows reinstalling over an instance in any state.
	Force bool
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Licenses    LicenseValidator   // nil rejects all commercial installs
	Routes      RouteBinder        // nil disables route binding (no HTTP surface)
	Metrics     *metrics.Collector // nil disables instrumentation
	Logger      *slog.Logger
	HookTimeout time.Duration
}

// Manager drives the per-(plugin, tenant) lifecycle state machine:
// UNINSTALLED -> INSTALLED -> ACTIVE <-> INACTIVE -> UNINSTALLED, with ERROR
// reachable from any transition attempt. All mutating operations are
// serialized per key; every operation resolves to exactly one persisted state
// transition (or an ERROR transition) before returning.
type Manager struct {
	registry    *Registry
	store       store.InstanceStore
	kv          store.KVStore
	licenses    LicenseValidator
	routes      RouteBinder
	metrics     *metrics.Collector
	logger      *slog.Logger
	hookTimeout time.Duration

	locks *keyedMutex

	mu          sync.RWMutex
	instances   map[instKey]*store.Instance
	dynHandlers map[string]map[string]RouteHandler // pluginID -> handler name -> handler
	subscribers []func(Event)
}

type instKey struct{ pluginID, tenantID string }

// NewManager creates a Manager over the given registry and stores.
func NewManager(registry *Registry, st store.InstanceStore, kv store.KVStore, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.HookTimeout
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	return &Manager{
		registry:    registry,
		store:       st,
		kv:          kv,
		licenses:    opts.Licenses,
		routes:      opts.Routes,
		metrics:     opts.Metrics,
		logger:      logger,
		hookTimeout: timeout,
		locks:       newKeyedMutex(),
		instances:   make(map[instKey]*store.Instance),
		dynHandlers: make(map[string]map[string]RouteHandler),
	}
}

// SetRouteBinder wires the route proxy after construction; the proxy itself
// needs the manager as its status resolver. Must be called before Restore or
// any lifecycle operation.
func (m *Manager) SetRouteBinder(rb RouteBinder) {
	m.routes = rb
}

// Restore rebuilds the in-memory instance cache from the store and rebinds
// routes for active instances. Hooks are not re-invoked: plugin-side state is
// durable on the plugin's own side; only route binding needs replay.
func (m *Manager) Restore(ctx context.Context) error {
	records, err := m.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("replay instance records: %w", err)
	}

	rebound := make(map[string]bool)
	for _, inst := range records {
		if inst.Status == store.StatusUninstalled {
			continue
		}
		m.cacheSet(inst)

		if inst.Status != store.StatusActive || rebound[inst.PluginID] {
			continue
		}
		def, ok := m.registry.Get(inst.PluginID)
		if !ok {
			m.logger.Warn("Active instance references unknown plugin; routes not rebound",
				"plugin", inst.PluginID, "tenant", inst.TenantID)
			continue
		}
		bound, err := m.resolveRoutes(def)
		if err != nil {
			m.logger.Warn("Failed to resolve routes during replay", "plugin", inst.PluginID, "error", err)
			continue
		}
		if m.routes != nil {
			if err := m.routes.BindPluginRoutes(def.ID, bound); err != nil {
				m.logger.Warn("Failed to rebind routes during replay", "plugin", inst.PluginID, "error", err)
				continue
			}
		}
		rebound[inst.PluginID] = true
	}
	m.logger.Info("Plugin state restored", "instances", len(records), "plugins_rebound", len(rebound))
	return nil
}

// Install creates (or, with Force, recreates) the instance for
// (pluginID, opts.TenantID) and leaves it INSTALLED, or ACTIVE when
// AutoActivate is set.
func (m *Manager) Install(ctx context.Context, pluginID string, opts InstallOptions) error {
	tenantID := tenant.Normalize(opts.TenantID)
	unlock := m.locks.lock(pluginID + "\x00" + tenantID)
	defer unlock()

	err := m.installLocked(ctx, pluginID, tenantID, opts)
	m.observeOp("install", err)
	return err
}

func (m *Manager) installLocked(ctx context.Context, pluginID, tenantID string, opts InstallOptions) error {
	def, ok := m.registry.Get(pluginID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, pluginID)
	}

	existing, err := m.loadInstance(ctx, pluginID, tenantID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != store.StatusError && !opts.Force {
		return fmt.Errorf("%w: %s for tenant %s is %s", ErrAlreadyInstalled, pluginID, tenantID, existing.Status)
	}

	if def.License != TierFree {
		if err := m.checkLicense(ctx, def, tenantID, opts.LicenseKey); err != nil {
			m.persistError(ctx, def, tenantID, err)
			return err
		}
	}

	if err := m.checkDependencies(ctx, def, tenantID); err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}

	config := mergeConfig(def.Hooks.DefaultConfig(), opts.Config)
	if err := m.validateConfig(def, config); err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}

	hc := m.hookContext(def, tenantID, opts.UserID, config)
	if err := m.invokeHook(ctx, def, "install", def.Hooks.Install, hc); err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	metadata, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode definition snapshot: %w", err)
	}

	inst := &store.Instance{
		PluginID: pluginID,
		TenantID: tenantID,
		Status:   store.StatusInstalled,
		Version:  def.Version,
		Config:   configJSON,
		Metadata: metadata,
	}
	if existing != nil {
		inst.InstalledAt = existing.InstalledAt
	}
	if err := m.store.Upsert(ctx, inst); err != nil {
		return fmt.Errorf("persist installed state: %w", err)
	}
	m.cacheSet(inst)
	m.logger.Info("Plugin installed", "plugin", pluginID, "tenant", tenantID, "version", def.Version)
	m.emit(EventInstall, pluginID, tenantID, nil)

	if opts.AutoActivate {
		return m.activateLocked(ctx, def, tenantID, opts.UserID)
	}
	return nil
}

// Activate transitions an installed instance to ACTIVE and binds its routes.
func (m *Manager) Activate(ctx context.Context, pluginID, tenantID string) error {
	tenantID = tenant.Normalize(tenantID)
	unlock := m.locks.lock(pluginID + "\x00" + tenantID)
	defer unlock()

	def, ok := m.registry.Get(pluginID)
	if !ok {
		return m.observeOpErr("activate", fmt.Errorf("%w: %q", ErrNotFound, pluginID))
	}
	err := m.activateLocked(ctx, def, tenantID, tenant.UserFromContext(ctx))
	m.observeOp("activate", err)
	return err
}

func (m *Manager) activateLocked(ctx context.Context, def *Definition, tenantID, userID string) error {
	inst, err := m.loadInstance(ctx, def.ID, tenantID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%w: %s for tenant %s", ErrNotInstalled, def.ID, tenantID)
	}
	if inst.Status == store.StatusActive {
		return nil
	}

	config, err := decodeConfig(inst.Config)
	if err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}

	hc := m.hookContext(def, tenantID, userID, config)
	if err := m.invokeHook(ctx, def, "activate", def.Hooks.Activate, hc); err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}

	bound, err := m.resolveRoutes(def)
	if err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}
	if m.routes != nil {
		if err := m.routes.BindPluginRoutes(def.ID, bound); err != nil {
			m.persistError(ctx, def, tenantID, err)
			return err
		}
	}

	// Cached records are immutable once shared: state changes go through a
	// private copy swapped in under the cache lock, so InstanceStatus readers
	// on the proxy request path never observe a half-written record.
	now := time.Now().UTC()
	updated := *inst
	updated.Status = store.StatusActive
	updated.ActivatedAt = &now
	updated.ErrorMsg = ""
	if err := m.store.Upsert(ctx, &updated); err != nil {
		return fmt.Errorf("persist active state: %w", err)
	}
	m.cacheSet(&updated)
	m.updateActiveGauge(tenantID)
	m.logger.Info("Plugin activated", "plugin", def.ID, "tenant", tenantID)
	m.emit(EventActivate, def.ID, tenantID, nil)
	return nil
}

// Deactivate transitions an instance to INACTIVE, gating its routes off.
// The INACTIVE status is persisted before the hook runs and before routes are
// unbound, so racing proxy lookups observe the new status as early as possible.
func (m *Manager) Deactivate(ctx context.Context, pluginID, tenantID string) error {
	tenantID = tenant.Normalize(tenantID)
	unlock := m.locks.lock(pluginID + "\x00" + tenantID)
	defer unlock()

	err := m.deactivateLocked(ctx, pluginID, tenantID)
	m.observeOp("deactivate", err)
	return err
}

func (m *Manager) deactivateLocked(ctx context.Context, pluginID, tenantID string) error {
	def, ok := m.registry.Get(pluginID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, pluginID)
	}
	inst, err := m.loadInstance(ctx, pluginID, tenantID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%w: %s for tenant %s", ErrNotInstalled, pluginID, tenantID)
	}

	// Status first: in-flight proxy lookups must stop resolving this instance
	// before the plugin starts tearing down. The write goes through a private
	// copy, never the shared cached record.
	now := time.Now().UTC()
	updated := *inst
	updated.Status = store.StatusInactive
	updated.DeactivatedAt = &now
	if err := m.store.Upsert(ctx, &updated); err != nil {
		return fmt.Errorf("persist inactive state: %w", err)
	}
	m.cacheSet(&updated)
	inst = &updated
	m.updateActiveGauge(tenantID)

	config, err := decodeConfig(inst.Config)
	if err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}
	hc := m.hookContext(def, tenantID, tenant.UserFromContext(ctx), config)
	if err := m.invokeHook(ctx, def, "deactivate", def.Hooks.Deactivate, hc); err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}

	if m.routes != nil && !m.anyActive(pluginID) {
		m.routes.UnbindPluginRoutes(pluginID)
	}
	m.logger.Info("Plugin deactivated", "plugin", pluginID, "tenant", tenantID)
	m.emit(EventDeactivate, pluginID, tenantID, nil)
	return nil
}

// Uninstall removes an instance entirely, deactivating it first when active.
// The persisted record is purged.
func (m *Manager) Uninstall(ctx context.Context, pluginID, tenantID string) error {
	tenantID = tenant.Normalize(tenantID)
	unlock := m.locks.lock(pluginID + "\x00" + tenantID)
	defer unlock()

	err := m.uninstallLocked(ctx, pluginID, tenantID)
	m.observeOp("uninstall", err)
	return err
}

func (m *Manager) uninstallLocked(ctx context.Context, pluginID, tenantID string) error {
	def, ok := m.registry.Get(pluginID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, pluginID)
	}
	inst, err := m.loadInstance(ctx, pluginID, tenantID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%w: %s for tenant %s", ErrNotInstalled, pluginID, tenantID)
	}

	if inst.Status == store.StatusActive {
		if err := m.deactivateLocked(ctx, pluginID, tenantID); err != nil {
			return err
		}
		inst, err = m.loadInstance(ctx, pluginID, tenantID)
		if err != nil {
			return err
		}
		if inst == nil {
			return fmt.Errorf("%w: %s for tenant %s", ErrNotInstalled, pluginID, tenantID)
		}
	}

	config, err := decodeConfig(inst.Config)
	if err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}
	hc := m.hookContext(def, tenantID, tenant.UserFromContext(ctx), config)
	if err := m.invokeHook(ctx, def, "uninstall", def.Hooks.Uninstall, hc); err != nil {
		m.persistError(ctx, def, tenantID, err)
		return err
	}

	if err := m.store.Delete(ctx, pluginID, tenantID); err != nil {
		return fmt.Errorf("purge instance record: %w", err)
	}
	m.cacheDelete(pluginID, tenantID)
	if m.routes != nil && !m.anyInstance(pluginID) {
		m.routes.UnbindPluginRoutes(pluginID)
	}
	m.logger.Info("Plugin uninstalled", "plugin", pluginID, "tenant", tenantID)
	m.emit(EventUninstall, pluginID, tenantID, nil)
	return nil
}

// UpdateConfig validates and replaces the stored configuration for an
// instance. The instance's status is unchanged on success.
func (m *Manager) UpdateConfig(ctx context.Context, pluginID, tenantID string, config map[string]any) error {
	tenantID = tenant.Normalize(tenantID)
	unlock := m.locks.lock(pluginID + "\x00" + tenantID)
	defer unlock()

	def, ok := m.registry.Get(pluginID)
	if !ok {
		return m.observeOpErr("update_config", fmt.Errorf("%w: %q", ErrNotFound, pluginID))
	}
	inst, err := m.loadInstance(ctx, pluginID, tenantID)
	if err != nil {
		return m.observeOpErr("update_config", err)
	}
	if inst == nil {
		return m.observeOpErr("update_config", fmt.Errorf("%w: %s for tenant %s", ErrNotInstalled, pluginID, tenantID))
	}

	merged := mergeConfig(def.Hooks.DefaultConfig(), config)
	if err := m.validateConfig(def, merged); err != nil {
		m.persistError(ctx, def, tenantID, err)
		return m.observeOpErr("update_config", err)
	}

	configJSON, err := json.Marshal(merged)
	if err != nil {
		return m.observeOpErr("update_config", fmt.Errorf("encode config: %w", err))
	}
	updated := *inst
	updated.Config = configJSON
	if err := m.store.Upsert(ctx, &updated); err != nil {
		return m.observeOpErr("update_config", fmt.Errorf("persist config: %w", err))
	}
	m.cacheSet(&updated)
	m.observeOp("update_config", nil)
	return nil
}

// GetPlugin returns the instance record for (pluginID, tenantID).
func (m *Manager) GetPlugin(ctx context.Context, pluginID, tenantID string) (*store.Instance, error) {
	tenantID = tenant.Normalize(tenantID)
	inst, err := m.loadInstance(ctx, pluginID, tenantID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s for tenant %s", ErrNotInstalled, pluginID, tenantID)
	}
	return inst, nil
}

// GetPlugins returns all instance records, scoped to tenantID when non-empty.
func (m *Manager) GetPlugins(ctx context.Context, tenantID string) ([]*store.Instance, error) {
	return m.store.List(ctx, tenantID)
}

// GetPluginStatus returns the lifecycle status for (pluginID, tenantID).
// A key with no record reads as UNINSTALLED.
func (m *Manager) GetPluginStatus(ctx context.Context, pluginID, tenantID string) (store.Status, error) {
	tenantID = tenant.Normalize(tenantID)
	inst, err := m.loadInstance(ctx, pluginID, tenantID)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return store.StatusUninstalled, nil
	}
	return inst.Status, nil
}

// InstanceStatus is the route proxy's status gate: a cache-only read that
// never touches the store on the request path. The second return reports
// whether any instance exists for the key.
func (m *Manager) InstanceStatus(pluginID, tenantID string) (store.Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[instKey{pluginID, tenant.Normalize(tenantID)}]
	if !ok {
		return store.StatusUninstalled, false
	}
	return inst.Status, true
}

// --- health ---

// HealthResult is the outcome of one plugin health probe.
type HealthResult struct {
	PluginID string       `json:"plugin_id"`
	TenantID string       `json:"tenant_id"`
	Status   store.Status `json:"status"`
	Healthy  bool         `json:"healthy"`
	Detail   string       `json:"detail,omitempty"`
}

// HealthCheckPlugin probes one instance. Instances that are not ACTIVE are
// reported unhealthy without invoking the plugin.
func (m *Manager) HealthCheckPlugin(ctx context.Context, pluginID, tenantID string) HealthResult {
	tenantID = tenant.Normalize(tenantID)
	result := HealthResult{PluginID: pluginID, TenantID: tenantID}

	inst, err := m.loadInstance(ctx, pluginID, tenantID)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	if inst == nil {
		result.Status = store.StatusUninstalled
		result.Detail = "not installed"
		return result
	}
	result.Status = inst.Status
	if inst.Status != store.StatusActive {
		result.Detail = "not active"
		return result
	}

	def, ok := m.registry.Get(pluginID)
	if !ok {
		result.Detail = "definition missing"
		return result
	}
	if hc, ok := def.Hooks.(HealthChecker); ok {
		probeCtx, cancel := context.WithTimeout(ctx, m.hookTimeout)
		defer cancel()
		if err := hc.HealthCheck(probeCtx); err != nil {
			result.Detail = err.Error()
			return result
		}
	}
	result.Healthy = true
	return result
}

// HealthCheckAll probes every instance, optionally scoped to a tenant.
// Probes run concurrently with a small parallelism bound.
func (m *Manager) HealthCheckAll(ctx context.Context, tenantID string) ([]HealthResult, error) {
	records, err := m.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	results := make([]HealthResult, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, inst := range records {
		i, inst := i, inst
		g.Go(func() error {
			results[i] = m.HealthCheckPlugin(gctx, inst.PluginID, inst.TenantID)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// --- batch ---

// BatchResult collects per-plugin outcomes of a batch operation. Individual
// failures never abort the batch.
type BatchResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// BatchOperation applies op ("install", "activate", "deactivate" or
// "uninstall") to each plugin ID independently.
func (m *Manager) BatchOperation(ctx context.Context, op string, pluginIDs []string, tenantID string) (*BatchResult, error) {
	result := &BatchResult{Failed: make(map[string]string)}
	for _, id := range pluginIDs {
		var err error
		switch op {
		case "install":
			err = m.Install(ctx, id, InstallOptions{TenantID: tenantID})
		case "activate":
			err = m.Activate(ctx, id, tenantID)
		case "deactivate":
			err = m.Deactivate(ctx, id, tenantID)
		case "uninstall":
			err = m.Uninstall(ctx, id, tenantID)
		default:
			return nil, fmt.Errorf("unknown batch operation %q", op)
		}
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

// --- internals ---

// loadInstance returns the cached record for the key, falling back to the
// store and caching the result. A nil instance with nil error means the key
// has never been installed.
func (m *Manager) loadInstance(ctx context.Context, pluginID, tenantID string) (*store.Instance, error) {
	m.mu.RLock()
	inst, ok := m.instances[instKey{pluginID, tenantID}]
	m.mu.RUnlock()
	if ok {
		return inst, nil
	}

	inst, err := m.store.Get(ctx, pluginID, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %s/%s: %w", pluginID, tenantID, err)
	}
	m.cacheSet(inst)
	return inst, nil
}

func (m *Manager) cacheSet(inst *store.Instance) {
	m.mu.Lock()
	m.instances[instKey{inst.PluginID, inst.TenantID}] = inst
	m.mu.Unlock()
}

func (m *Manager) cacheDelete(pluginID, tenantID string) {
	m.mu.Lock()
	delete(m.instances, instKey{pluginID, tenantID})
	m.mu.Unlock()
}

// anyActive reports whether any tenant's instance of pluginID is ACTIVE.
func (m *Manager) anyActive(pluginID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, inst := range m.instances {
		if k.pluginID == pluginID && inst.Status == store.StatusActive {
			return true
		}
	}
	return false
}

// anyInstance reports whether any tenant still has an instance of pluginID.
func (m *Manager) anyInstance(pluginID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k := range m.instances {
		if k.pluginID == pluginID {
			return true
		}
	}
	return false
}

func (m *Manager) checkLicense(ctx context.Context, def *Definition, tenantID, licenseKey string) error {
	if m.licenses == nil {
		return fmt.Errorf("%w: no license validator configured for commercial plugin %s", ErrLicense, def.ID)
	}
	grant, err := m.licenses.Validate(ctx, licensing.ValidateRequest{
		PluginID:   def.ID,
		TenantID:   tenantID,
		LicenseKey: licenseKey,
		Free:       def.License == TierFree,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLicense, err)
	}
	if !grant.Valid {
		return fmt.Errorf("%w: %s", ErrLicense, grant.Reason)
	}
	if grant.UsageExceeded() {
		return fmt.Errorf("%w: usage limit %d reached on plan %s", ErrLicense, grant.UsageLimit, grant.Plan)
	}
	return nil
}

func (m *Manager) checkDependencies(ctx context.Context, def *Definition, tenantID string) error {
	for _, dep := range def.Dependencies {
		inst, err := m.loadInstance(ctx, dep, tenantID)
		if err != nil {
			return err
		}
		if inst == nil || inst.Status != store.StatusActive {
			return fmt.Errorf("%w: %s requires %s to be active for tenant %s", ErrDependency, def.ID, dep, tenantID)
		}
	}
	return nil
}

func (m *Manager) validateConfig(def *Definition, config map[string]any) error {
	if sch := m.registry.Schema(def.ID); sch != nil {
		if err := validateAgainstSchema(sch, config); err != nil {
			return err
		}
	}
	if err := def.Hooks.ValidateConfig(config); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// invokeHook runs one lifecycle hook under the hook timeout, converting
// panics and errors into ErrHook while preserving the original error chain.
func (m *Manager) invokeHook(ctx context.Context, def *Definition, name string,
	fn func(context.Context, *HookContext) error, hc *HookContext) (err error) {
	hookCtx, cancel := context.WithTimeout(ctx, m.hookTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		m.metrics.ObserveHook(def.ID, name, time.Since(start))
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s hook panicked: %v", ErrHook, name, r)
		}
	}()

	if hookErr := fn(hookCtx, hc); hookErr != nil {
		return fmt.Errorf("%w: %s hook: %w", ErrHook, name, hookErr)
	}
	return nil
}

func (m *Manager) hookContext(def *Definition, tenantID, userID string, config map[string]any) *HookContext {
	return &HookContext{
		PluginID: def.ID,
		TenantID: tenantID,
		UserID:   userID,
		Config:   config,
		Logger:   m.logger.With("plugin", def.ID, "tenant", tenantID),
		KV:       ScopedKV{store: m.kv, pluginID: def.ID, tenantID: tenantID},
		registerHandler: func(name string, h RouteHandler) {
			m.mu.Lock()
			defer m.mu.Unlock()
			handlers := m.dynHandlers[def.ID]
			if handlers == nil {
				handlers = make(map[string]RouteHandler)
				m.dynHandlers[def.ID] = handlers
			}
			handlers[name] = h
		},
	}
}

// resolveRoutes maps the definition's declared routes to handlers:
// dynamically registered handlers first, then the static Handlers table.
func (m *Manager) resolveRoutes(def *Definition) ([]BoundRoute, error) {
	static := def.Hooks.Handlers()

	m.mu.RLock()
	dynamic := m.dynHandlers[def.ID]
	m.mu.RUnlock()

	bound := make([]BoundRoute, 0, len(def.Routes))
	for _, rt := range def.Routes {
		h, ok := dynamic[rt.HandlerName]
		if !ok {
			h, ok = static[rt.HandlerName]
		}
		if !ok {
			return nil, fmt.Errorf("%w: handler %q not provided for route %s %s",
				ErrHook, rt.HandlerName, rt.Method, rt.Path)
		}
		bound = append(bound, BoundRoute{
			Method:      rt.Method,
			Path:        rt.Path,
			HandlerName: rt.HandlerName,
			Handler:     h,
		})
	}
	return bound, nil
}

// persistError records a failed transition as status ERROR with the captured
// message so operators can inspect the last failure without re-triggering it.
func (m *Manager) persistError(ctx context.Context, def *Definition, tenantID string, cause error) {
	inst, err := m.loadInstance(ctx, def.ID, tenantID)
	var updated store.Instance
	if err != nil || inst == nil {
		updated = store.Instance{PluginID: def.ID, TenantID: tenantID, Version: def.Version}
	} else {
		updated = *inst
	}
	updated.Status = store.StatusError
	updated.ErrorMsg = cause.Error()
	if err := m.store.Upsert(ctx, &updated); err != nil {
		m.logger.Error("Failed to persist error state", "plugin", def.ID, "tenant", tenantID, "error", err)
		return
	}
	m.cacheSet(&updated)
	m.updateActiveGauge(tenantID)
	m.emit(EventError, def.ID, tenantID, cause)
}

func (m *Manager) updateActiveGauge(tenantID string) {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	n := 0
	for k, inst := range m.instances {
		if k.tenantID == tenantID && inst.Status == store.StatusActive {
			n++
		}
	}
	m.mu.RUnlock()
	m.metrics.SetActiveInstances(tenantID, n)
}

func (m *Manager) observeOp(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.metrics.ObserveLifecycle(op, outcome)
}

func (m *Manager) observeOpErr(op string, err error) error {
	m.observeOp(op, err)
	return err
}

func mergeConfig(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func decodeConfig(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var config map[string]any
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("decode stored config: %w", err)
	}
	return config, nil
}
