// Package pingnotify is a built-in free notification plugin: it accepts
// notification requests and logs them, standing in for a real delivery
// channel.
package pingnotify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/paymesh/pluginhost/plugin"
)

const configSchema = `{
	"type": "object",
	"properties": {
		"channel": {"type": "string"}
	}
}`

// PingNotify is the plugin implementation.
type PingNotify struct {
	logger *slog.Logger
}

// New creates the plugin implementation.
func New() *PingNotify {
	return &PingNotify{logger: slog.Default()}
}

// Definition returns the registry entry for the pingnotify plugin.
func Definition() *plugin.Definition {
	return &plugin.Definition{
		ID:         "pingnotify",
		Name:       "Ping Notifier",
		Version:    "0.3.0",
		Capability: plugin.CapabilityNotification,
		License:    plugin.TierFree,
		Routes: []plugin.RouteDef{
			{Method: http.MethodPost, Path: "/notify", HandlerName: "notify"},
		},
		ConfigSchema: json.RawMessage(configSchema),
		Hooks:        New(),
	}
}

func (p *PingNotify) Install(_ context.Context, hc *plugin.HookContext) error {
	p.logger = hc.Logger
	return nil
}

func (p *PingNotify) Activate(_ context.Context, hc *plugin.HookContext) error {
	p.logger = hc.Logger
	return nil
}

func (p *PingNotify) Deactivate(_ context.Context, _ *plugin.HookContext) error { return nil }

func (p *PingNotify) Uninstall(_ context.Context, _ *plugin.HookContext) error { return nil }

func (p *PingNotify) DefaultConfig() map[string]any {
	return map[string]any{"channel": "log"}
}

func (p *PingNotify) ValidateConfig(_ map[string]any) error { return nil }

// Handlers returns the static route handler table.
func (p *PingNotify) Handlers() map[string]plugin.RouteHandler {
	return map[string]plugin.RouteHandler{"notify": p.notify}
}

type notifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

func (p *PingNotify) notify(w http.ResponseWriter, r *http.Request) error {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		return json.NewEncoder(w).Encode(map[string]string{"error": "invalid JSON body"})
	}
	p.logger.Info("Notification delivered", "subject", req.Subject)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]string{"result": "delivered"})
}
