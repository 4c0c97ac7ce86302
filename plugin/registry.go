package plugin

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry is the catalog of known plugin definitions. Definitions are
// registered at process start and never mutated afterwards.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defs:    make(map[string]*Definition),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// Register validates and adds a single definition. Returns an error if the
// definition is invalid or its ID is already taken.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition is nil")
	}
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("plugin %q: %w", def.ID, err)
	}

	sch, err := compileSchema(def.ConfigSchema)
	if err != nil {
		return fmt.Errorf("plugin %q: %w", def.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("plugin %q is already registered", def.ID)
	}
	r.defs[def.ID] = def
	r.schemas[def.ID] = sch
	r.logger.Info("Plugin definition registered",
		"plugin", def.ID, "version", def.Version, "capability", def.Capability, "license", def.License)
	return nil
}

// Load registers a batch of candidate definitions discovered at startup.
// A definition failing validation is logged and excluded; Load never fails.
func (r *Registry) Load(defs ...*Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			id := ""
			if def != nil {
				id = def.ID
			}
			r.logger.Warn("Skipping invalid plugin definition", "plugin", id, "error", err)
		}
	}
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// Schema returns the compiled config schema for id, or nil for unknown ids.
func (r *Registry) Schema(id string) *jsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[id]
}

// List returns all known definitions sorted by ID.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func validateDefinition(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("definition has no identifier")
	}
	if def.Version == "" {
		return fmt.Errorf("definition has no version")
	}
	if def.Hooks == nil {
		return fmt.Errorf("definition has no lifecycle hooks")
	}
	if len(def.ConfigSchema) == 0 {
		return fmt.Errorf("definition has no config schema")
	}
	if def.License == "" {
		def.License = TierFree
	}
	for i, rt := range def.Routes {
		if rt.Method == "" || rt.Path == "" || rt.HandlerName == "" {
			return fmt.Errorf("route %d is incomplete (method/path/handler required)", i)
		}
	}
	return nil
}
