// Package admin serves the lifecycle HTTP API consumed by the operator
// console: install, activate, deactivate, uninstall, config updates, status
// reads, batch operations, and health checks. All endpoints are tenant-scoped
// through the X-Tenant-ID header; absence means the global scope.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paymesh/pluginhost/plugin"
	"github.com/paymesh/pluginhost/store"
	"github.com/paymesh/pluginhost/tenant"
)

const apiPrefix = "/api/plugins"

// API is the HTTP handler for the lifecycle endpoints.
type API struct {
	registry *plugin.Registry
	manager  *plugin.Manager
	logger   *slog.Logger
}

// NewAPI creates the lifecycle API handler.
func NewAPI(registry *plugin.Registry, manager *plugin.Manager, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{registry: registry, manager: manager, logger: logger}
}

// RegisterRoutes registers the API routes on the given mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(apiPrefix, tenant.Middleware(http.HandlerFunc(a.handleList)))
	mux.Handle(apiPrefix+"/", tenant.Middleware(http.HandlerFunc(a.handlePluginPath)))
}

// pluginListEntry merges a definition with the caller's instance state.
type pluginListEntry struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Version    string       `json:"version"`
	Capability string       `json:"capability"`
	License    string       `json:"license"`
	Status     store.Status `json:"status"`
	Error      string       `json:"error,omitempty"`
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID := tenant.Normalize(tenant.FromContext(r.Context()))

	entries := make([]pluginListEntry, 0)
	for _, def := range a.registry.List() {
		status, err := a.manager.GetPluginStatus(r.Context(), def.ID, tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read plugin status")
			return
		}
		entry := pluginListEntry{
			ID:         def.ID,
			Name:       def.Name,
			Version:    def.Version,
			Capability: string(def.Capability),
			License:    string(def.License),
			Status:     status,
		}
		if inst, err := a.manager.GetPlugin(r.Context(), def.ID, tenantID); err == nil {
			entry.Error = inst.ErrorMsg
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handlePluginPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, apiPrefix+"/")
	switch rest {
	case "batch":
		a.handleBatch(w, r)
		return
	case "health":
		a.handleHealth(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	pluginID, action := parts[0], parts[1]
	tenantID := tenant.FromContext(r.Context())

	switch action {
	case "install":
		a.handleInstall(w, r, pluginID, tenantID)
	case "activate":
		a.handleSimpleOp(w, r, func() error { return a.manager.Activate(r.Context(), pluginID, tenantID) })
	case "deactivate":
		a.handleSimpleOp(w, r, func() error { return a.manager.Deactivate(r.Context(), pluginID, tenantID) })
	case "uninstall":
		a.handleSimpleOp(w, r, func() error { return a.manager.Uninstall(r.Context(), pluginID, tenantID) })
	case "config":
		a.handleConfig(w, r, pluginID, tenantID)
	case "status":
		a.handleStatus(w, r, pluginID, tenantID)
	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
	}
}

// installRequest is the JSON body for POST /api/plugins/{id}/install.
type installRequest struct {
	Config       map[string]any `json:"config,omitempty"`
	LicenseKey   string         `json:"license_key,omitempty"`
	AutoActivate bool           `json:"auto_activate,omitempty"`
	Force        bool           `json:"force,omitempty"`
}

func (a *API) handleInstall(w http.ResponseWriter, r *http.Request, pluginID, tenantID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	err := a.manager.Install(r.Context(), pluginID, plugin.InstallOptions{
		TenantID:     tenantID,
		UserID:       tenant.UserFromContext(r.Context()),
		Config:       req.Config,
		LicenseKey:   req.LicenseKey,
		AutoActivate: req.AutoActivate,
		Force:        req.Force,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	a.respondStatus(w, r, pluginID, tenantID)
}

func (a *API) handleSimpleOp(w http.ResponseWriter, r *http.Request, op func() error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := op(); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request, pluginID, tenantID string) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var config map[string]any
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := a.manager.UpdateConfig(r.Context(), pluginID, tenantID, config); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request, pluginID, tenantID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	a.respondStatus(w, r, pluginID, tenantID)
}

func (a *API) respondStatus(w http.ResponseWriter, r *http.Request, pluginID, tenantID string) {
	status, err := a.manager.GetPluginStatus(r.Context(), pluginID, tenantID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	resp := map[string]any{
		"plugin_id": pluginID,
		"tenant_id": tenant.Normalize(tenantID),
		"status":    status,
	}
	if inst, err := a.manager.GetPlugin(r.Context(), pluginID, tenantID); err == nil {
		resp["version"] = inst.Version
		if inst.ErrorMsg != "" {
			resp["error"] = inst.ErrorMsg
		}
		if inst.ActivatedAt != nil {
			resp["activated_at"] = inst.ActivatedAt
		}
		if inst.DeactivatedAt != nil {
			resp["deactivated_at"] = inst.DeactivatedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// batchRequest is the JSON body for POST /api/plugins/batch.
type batchRequest struct {
	Operation string   `json:"operation"`
	PluginIDs []string `json:"plugin_ids"`
}

func (a *API) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	result, err := a.manager.BatchOperation(r.Context(), req.Operation, req.PluginIDs, tenant.FromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	results, err := a.manager.HealthCheckAll(r.Context(), tenant.FromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// statusForError maps the lifecycle error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, plugin.ErrNotFound), errors.Is(err, plugin.ErrNotInstalled):
		return http.StatusNotFound
	case errors.Is(err, plugin.ErrAlreadyInstalled),
		errors.Is(err, plugin.ErrDependency),
		errors.Is(err, plugin.ErrRouteConflict):
		return http.StatusConflict
	case errors.Is(err, plugin.ErrLicense):
		return http.StatusPaymentRequired
	case errors.Is(err, plugin.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
