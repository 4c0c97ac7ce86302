package licensing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paymesh/pluginhost/pkg/license"
)

// DefaultOnlineTimeout bounds the best-effort license server check.
const DefaultOnlineTimeout = 3 * time.Second

// DefaultDemoLimit is the usage ceiling for keyless demo grants of plugins
// without a specific ceiling configured.
const DefaultDemoLimit = 50

// ValidateRequest carries everything needed to validate one plugin license.
type ValidateRequest struct {
	PluginID   string
	TenantID   string
	LicenseKey string
	// Free marks the plugin's definition as free/open: validation short-circuits
	// to a full grant without requiring a key.
	Free bool
}

// Config holds the validator's construction parameters.
type Config struct {
	// PublicKey verifies license key signatures. Required for keyed validation.
	PublicKey ed25519.PublicKey
	// ServerURL is the license server base URL; empty disables the online check.
	ServerURL string
	// Domain identifies this installation to the license server.
	Domain string
	// OnlineTimeout bounds the license server call (default 3s).
	OnlineTimeout time.Duration
	// DemoLimits overrides per-plugin demo usage ceilings.
	DemoLimits map[string]int64
	// DemoFeatures is the allow-list for keyless demo grants.
	DemoFeatures []string
}

// Validator validates license keys: free short-circuit, keyless demo grants,
// Ed25519 signature verification, a bounded online check, and an offline
// fallback for commercial plans only.
type Validator struct {
	publicKey     ed25519.PublicKey
	serverURL     string
	domain        string
	onlineTimeout time.Duration
	demoLimits    map[string]int64
	demoFeatures  []string
	usage         UsageTracker
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewValidator creates a Validator. usage tracks demo and metered consumption;
// pass NewMemoryUsage() when no shared backend is configured.
func NewValidator(cfg Config, usage UsageTracker, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.OnlineTimeout
	if timeout <= 0 {
		timeout = DefaultOnlineTimeout
	}
	features := cfg.DemoFeatures
	if features == nil {
		features = []string{"payments"}
	}
	return &Validator{
		publicKey:     cfg.PublicKey,
		serverURL:     cfg.ServerURL,
		domain:        cfg.Domain,
		onlineTimeout: timeout,
		demoLimits:    cfg.DemoLimits,
		demoFeatures:  features,
		usage:         usage,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Validate derives the grant for one plugin license request.
func (v *Validator) Validate(ctx context.Context, req ValidateRequest) (*Grant, error) {
	if req.Free {
		return &Grant{Valid: true, Plan: PlanFree}, nil
	}
	if req.LicenseKey == "" {
		return v.demoGrant(ctx, req), nil
	}

	key, err := license.Parse(req.LicenseKey)
	if err != nil {
		return &Grant{Valid: false, Reason: fmt.Sprintf("malformed license key: %v", err)}, nil
	}
	if v.publicKey == nil {
		return &Grant{Valid: false, Reason: "no license public key configured"}, nil
	}
	if err := key.Verify(v.publicKey); err != nil {
		return &Grant{Valid: false, Reason: "invalid signature"}, nil
	}
	if key.IsExpired() {
		return &Grant{Valid: false, Plan: key.Plan, Reason: "license expired"}, nil
	}
	if key.PluginID != "" && key.PluginID != req.PluginID {
		return &Grant{Valid: false, Plan: key.Plan, Reason: "license issued for a different plugin"}, nil
	}

	if v.serverURL != "" {
		grant, err := v.onlineCheck(ctx, req)
		if err == nil {
			return grant, nil
		}
		// Degraded mode: trust the locally verified payload for commercial
		// plans only. Demo/anonymous requests never get this fallback.
		if commercialPlan(key.Plan) {
			v.logger.Warn("License server unreachable; granting from verified offline payload",
				"plugin", req.PluginID, "plan", key.Plan, "error", err)
			return v.offlineGrant(ctx, key, req), nil
		}
		return &Grant{Valid: false, Plan: key.Plan,
			Reason: fmt.Sprintf("license server unreachable: %v", err)}, nil
	}

	return v.offlineGrant(ctx, key, req), nil
}

// IncrementUsage records one unit of plugin usage. It is fire-and-forget
// telemetry: failures are logged and never surfaced to the caller.
func (v *Validator) IncrementUsage(pluginID, tenantID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), v.onlineTimeout)
		defer cancel()
		if _, err := v.usage.Increment(ctx, pluginID, tenantID); err != nil {
			v.logger.Warn("Failed to record plugin usage", "plugin", pluginID, "tenant", tenantID, "error", err)
		}
	}()
}

// demoGrant builds the keyless grant for a commercial plugin: a restricted
// feature allow-list with a per-plugin usage ceiling.
func (v *Validator) demoGrant(ctx context.Context, req ValidateRequest) *Grant {
	limit := int64(DefaultDemoLimit)
	if l, ok := v.demoLimits[req.PluginID]; ok {
		limit = l
	}

	current, err := v.usage.Current(ctx, req.PluginID, req.TenantID)
	if err != nil {
		v.logger.Warn("Failed to read demo usage; assuming zero",
			"plugin", req.PluginID, "tenant", req.TenantID, "error", err)
	}

	return &Grant{
		Valid:        true,
		Plan:         PlanDemo,
		Features:     append([]string(nil), v.demoFeatures...),
		UsageLimit:   limit,
		CurrentUsage: current,
	}
}

func (v *Validator) offlineGrant(ctx context.Context, key *license.Key, req ValidateRequest) *Grant {
	current, err := v.usage.Current(ctx, req.PluginID, req.TenantID)
	if err != nil {
		v.logger.Warn("Failed to read usage for offline grant",
			"plugin", req.PluginID, "tenant", req.TenantID, "error", err)
	}
	return &Grant{
		Valid:        true,
		Plan:         key.Plan,
		Features:     append([]string(nil), key.Features...),
		UsageLimit:   key.UsageLimit,
		CurrentUsage: current,
	}
}

// validateRequest is the JSON payload sent to the license server.
type validateRequest struct {
	PluginID   string `json:"plugin_id"`
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
	Timestamp  int64  `json:"timestamp"`
}

// validateResponse is the JSON response from the license server.
type validateResponse struct {
	Valid        bool     `json:"valid"`
	Plan         string   `json:"plan"`
	Features     []string `json:"features"`
	UsageLimit   int64    `json:"usage_limit,omitempty"`
	CurrentUsage int64    `json:"current_usage,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// onlineCheck asks the license server to confirm the key. Network and server
// failures are returned as errors so the caller can apply the offline policy;
// an authoritative "not valid" answer is a successful check.
func (v *Validator) onlineCheck(ctx context.Context, req ValidateRequest) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, v.onlineTimeout)
	defer cancel()

	payload, err := json.Marshal(validateRequest{
		PluginID:   req.PluginID,
		LicenseKey: req.LicenseKey,
		Domain:     v.domain,
		Timestamp:  time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.serverURL+"/validate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("license server returned status %d", resp.StatusCode)
	}

	var vResp validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	grant := &Grant{
		Valid:        vResp.Valid,
		Plan:         vResp.Plan,
		Features:     vResp.Features,
		UsageLimit:   vResp.UsageLimit,
		CurrentUsage: vResp.CurrentUsage,
		Reason:       vResp.Message,
	}
	return grant, nil
}
