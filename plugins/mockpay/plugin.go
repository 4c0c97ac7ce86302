// Package mockpay is a built-in demonstration payment plugin. It implements
// the full hook contract and a small payment API without calling any real
// payment provider, so the runtime can be exercised end to end.
package mockpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paymesh/pluginhost/plugin"
)

const configSchema = `{
	"type": "object",
	"properties": {
		"api_key": {"type": "string"},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3},
		"sandbox": {"type": "boolean"}
	},
	"additionalProperties": true
}`

// payment is one recorded mock payment.
type payment struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"` // created, refunded
	CreatedAt time.Time `json:"created_at"`
}

// MockPay is the plugin implementation.
type MockPay struct {
	mu       sync.Mutex
	payments map[string]*payment
}

// New creates the plugin implementation.
func New() *MockPay {
	return &MockPay{payments: make(map[string]*payment)}
}

// Definition returns the registry entry for the mockpay plugin.
func Definition() *plugin.Definition {
	return &plugin.Definition{
		ID:         "mockpay",
		Name:       "Mock Payment Provider",
		Version:    "1.0.0",
		Capability: plugin.CapabilityPayment,
		License:    plugin.TierCommercial,
		Routes: []plugin.RouteDef{
			{Method: http.MethodPost, Path: "/create-payment", HandlerName: "createPayment"},
			{Method: http.MethodGet, Path: "/payments/:id", HandlerName: "getPayment"},
			{Method: http.MethodPost, Path: "/payments/:id/refund", HandlerName: "refundPayment"},
		},
		Permissions:  []string{"payments:write", "payments:read"},
		ConfigSchema: json.RawMessage(configSchema),
		Hooks:        New(),
	}
}

// Install records the install time in the plugin's durable KV scope.
func (p *MockPay) Install(ctx context.Context, hc *plugin.HookContext) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	if err := hc.KV.Put(ctx, "installed_at", []byte(ts)); err != nil {
		return fmt.Errorf("record install time: %w", err)
	}
	hc.Logger.Info("mockpay installed")
	return nil
}

// Activate is a no-op beyond logging; handlers are static.
func (p *MockPay) Activate(_ context.Context, hc *plugin.HookContext) error {
	hc.Logger.Info("mockpay activated", "sandbox", hc.Config["sandbox"])
	return nil
}

// Deactivate is a no-op beyond logging.
func (p *MockPay) Deactivate(_ context.Context, hc *plugin.HookContext) error {
	hc.Logger.Info("mockpay deactivated")
	return nil
}

// Uninstall clears the plugin's durable KV scope.
func (p *MockPay) Uninstall(ctx context.Context, hc *plugin.HookContext) error {
	if err := hc.KV.Remove(ctx, "installed_at"); err != nil {
		hc.Logger.Warn("failed to clear install record", "error", err)
	}
	return nil
}

// DefaultConfig applies the sandbox currency defaults.
func (p *MockPay) DefaultConfig() map[string]any {
	return map[string]any{"currency": "USD", "sandbox": true}
}

// ValidateConfig rejects empty api_key values; the key itself is optional.
func (p *MockPay) ValidateConfig(config map[string]any) error {
	if v, ok := config["api_key"]; ok {
		s, _ := v.(string)
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("api_key must not be blank when set")
		}
	}
	return nil
}

// HealthCheck reports healthy while the payment table is reachable.
func (p *MockPay) HealthCheck(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return nil
}

// Handlers returns the static route handler table.
func (p *MockPay) Handlers() map[string]plugin.RouteHandler {
	return map[string]plugin.RouteHandler{
		"createPayment": p.createPayment,
		"getPayment":    p.getPayment,
		"refundPayment": p.refundPayment,
	}
}

type createPaymentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

func (p *MockPay) createPayment(w http.ResponseWriter, r *http.Request) error {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return respond(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	if req.Amount <= 0 {
		return respond(w, http.StatusUnprocessableEntity, map[string]string{"error": "amount must be positive"})
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	pay := &payment{
		ID:        uuid.NewString(),
		Amount:    req.Amount,
		Currency:  currency,
		Status:    "created",
		CreatedAt: time.Now().UTC(),
	}
	p.mu.Lock()
	p.payments[pay.ID] = pay
	p.mu.Unlock()

	return respond(w, http.StatusCreated, pay)
}

func (p *MockPay) getPayment(w http.ResponseWriter, r *http.Request) error {
	id := lastSegment(strings.TrimSuffix(r.URL.Path, "/"))
	p.mu.Lock()
	pay, ok := p.payments[id]
	p.mu.Unlock()
	if !ok {
		return respond(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
	}
	return respond(w, http.StatusOK, pay)
}

func (p *MockPay) refundPayment(w http.ResponseWriter, r *http.Request) error {
	path := strings.TrimSuffix(r.URL.Path, "/refund")
	id := lastSegment(path)

	p.mu.Lock()
	pay, ok := p.payments[id]
	if ok {
		pay.Status = "refunded"
	}
	p.mu.Unlock()
	if !ok {
		return respond(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
	}
	return respond(w, http.StatusOK, pay)
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func respond(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
