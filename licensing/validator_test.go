package licensing

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paymesh/pluginhost/pkg/license"
)

func signTestKey(t *testing.T, priv ed25519.PrivateKey, mutate ...func(*license.Key)) string {
	t.Helper()
	key := &license.Key{
		LicenseID:    "lic_test",
		PluginID:     "mockpay",
		Organization: "Acme Corp",
		Plan:         PlanPro,
		Features:     []string{"payments", "refunds"},
		UsageLimit:   10000,
		IssuedAt:     time.Now().Unix(),
		ExpiresAt:    time.Now().Add(24 * time.Hour).Unix(),
	}
	for _, fn := range mutate {
		fn(key)
	}
	signed, err := key.Sign(priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return signed
}

func newTestValidator(t *testing.T, cfg Config) (*Validator, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if cfg.PublicKey == nil {
		cfg.PublicKey = pub
	}
	return NewValidator(cfg, NewMemoryUsage(), nil), priv
}

func TestValidateFreeShortCircuits(t *testing.T) {
	t.Parallel()
	// Free plugins never need a key, a public key, or a server.
	v := NewValidator(Config{}, NewMemoryUsage(), nil)

	grant, err := v.Validate(context.Background(), ValidateRequest{PluginID: "notify", Free: true})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !grant.Valid || grant.Plan != PlanFree {
		t.Fatalf("grant = %+v, want valid free", grant)
	}
	if !grant.HasFeature("anything") {
		t.Fatal("free grant must allow all features")
	}
}

func TestValidateKeylessDemoGrant(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t, Config{
		DemoLimits:   map[string]int64{"mockpay": 5},
		DemoFeatures: []string{"payments"},
	})
	ctx := context.Background()

	grant, err := v.Validate(ctx, ValidateRequest{PluginID: "mockpay", TenantID: "t1"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !grant.Valid || grant.Plan != PlanDemo {
		t.Fatalf("grant = %+v, want valid demo", grant)
	}
	if grant.UsageLimit != 5 {
		t.Fatalf("UsageLimit = %d, want configured ceiling 5", grant.UsageLimit)
	}
	if !grant.HasFeature("payments") || grant.HasFeature("refunds") {
		t.Fatal("demo feature allow-list not applied")
	}

	// Plugins without a configured ceiling fall back to the default.
	grant, err = v.Validate(ctx, ValidateRequest{PluginID: "other", TenantID: "t1"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if grant.UsageLimit != DefaultDemoLimit {
		t.Fatalf("UsageLimit = %d, want %d", grant.UsageLimit, DefaultDemoLimit)
	}
}

func TestValidateDemoGrantReflectsUsage(t *testing.T) {
	t.Parallel()
	usage := NewMemoryUsage()
	pub, _, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	v := NewValidator(Config{PublicKey: pub, DemoLimits: map[string]int64{"mockpay": 3}}, usage, nil)
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		if _, err := usage.Increment(ctx, "mockpay", "t1"); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	grant, err := v.Validate(ctx, ValidateRequest{PluginID: "mockpay", TenantID: "t1"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !grant.UsageExceeded() {
		t.Fatalf("grant = %+v, want usage exceeded at ceiling", grant)
	}

	// Another tenant's counter is independent.
	grant, err = v.Validate(ctx, ValidateRequest{PluginID: "mockpay", TenantID: "t2"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if grant.UsageExceeded() {
		t.Fatalf("grant = %+v, fresh tenant must not be exceeded", grant)
	}
}

func TestValidateRejectsBadKeys(t *testing.T) {
	t.Parallel()
	v, priv := newTestValidator(t, Config{})
	_, otherPriv, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	cases := []struct {
		name string
		key  string
	}{
		{"malformed", "not-a-license-key"},
		{"wrong signer", signTestKey(t, otherPriv)},
		{"expired", signTestKey(t, priv, func(k *license.Key) {
			k.ExpiresAt = time.Now().Add(-time.Hour).Unix()
		})},
		{"wrong plugin", signTestKey(t, priv, func(k *license.Key) {
			k.PluginID = "somethingelse"
		})},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			grant, err := v.Validate(context.Background(), ValidateRequest{
				PluginID: "mockpay", TenantID: "t1", LicenseKey: tc.key,
			})
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if grant.Valid {
				t.Fatalf("grant = %+v, want invalid", grant)
			}
			if grant.Reason == "" {
				t.Fatal("invalid grant carries no reason")
			}
		})
	}
}

func TestValidateOfflineWithoutServer(t *testing.T) {
	t.Parallel()
	v, priv := newTestValidator(t, Config{})

	grant, err := v.Validate(context.Background(), ValidateRequest{
		PluginID: "mockpay", TenantID: "t1", LicenseKey: signTestKey(t, priv),
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !grant.Valid || grant.Plan != PlanPro {
		t.Fatalf("grant = %+v, want valid professional", grant)
	}
	if !grant.HasFeature("refunds") {
		t.Fatal("grant missing feature from key payload")
	}
	if grant.UsageLimit != 10000 {
		t.Fatalf("UsageLimit = %d, want 10000 from key payload", grant.UsageLimit)
	}
}

func TestValidateOnlineCheckIsAuthoritative(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/validate" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			PluginID   string `json:"plugin_id"`
			LicenseKey string `json:"license_key"`
			Domain     string `json:"domain"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PluginID == "" || req.LicenseKey == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Server revokes the key even though it verifies locally.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid":   false,
			"plan":    PlanPro,
			"message": "license revoked",
		})
	}))
	defer srv.Close()

	v, priv := newTestValidator(t, Config{ServerURL: srv.URL, Domain: "host.example.com"})
	grant, err := v.Validate(context.Background(), ValidateRequest{
		PluginID: "mockpay", TenantID: "t1", LicenseKey: signTestKey(t, priv),
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if grant.Valid {
		t.Fatalf("grant = %+v, want server revocation honored", grant)
	}
	if grant.Reason != "license revoked" {
		t.Fatalf("Reason = %q, want server message", grant.Reason)
	}
}

func TestValidateOfflineFallbackCommercialOnly(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v, priv := newTestValidator(t, Config{ServerURL: srv.URL, OnlineTimeout: time.Second})
	ctx := context.Background()

	// Commercial plan: verified payload carries the grant through the outage.
	grant, err := v.Validate(ctx, ValidateRequest{
		PluginID: "mockpay", TenantID: "t1", LicenseKey: signTestKey(t, priv),
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !grant.Valid || grant.Plan != PlanPro {
		t.Fatalf("grant = %+v, want offline fallback grant", grant)
	}

	// Demo plan keys get no such fallback.
	demoKey := signTestKey(t, priv, func(k *license.Key) { k.Plan = PlanDemo })
	grant, err = v.Validate(ctx, ValidateRequest{
		PluginID: "mockpay", TenantID: "t1", LicenseKey: demoKey,
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if grant.Valid {
		t.Fatalf("grant = %+v, demo keys must not survive a server outage", grant)
	}
}

func TestValidateNoPublicKeyConfigured(t *testing.T) {
	t.Parallel()
	_, priv, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	v := NewValidator(Config{}, NewMemoryUsage(), nil)

	grant, err := v.Validate(context.Background(), ValidateRequest{
		PluginID: "mockpay", TenantID: "t1", LicenseKey: signTestKey(t, priv),
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if grant.Valid {
		t.Fatalf("grant = %+v, keyed validation must fail without a public key", grant)
	}
}

func TestGrantHelpers(t *testing.T) {
	t.Parallel()
	free := &Grant{Valid: true, Plan: PlanFree}
	if !free.HasFeature("whatever") {
		t.Fatal("free plan must allow every feature")
	}

	scoped := &Grant{Valid: true, Plan: PlanBasic, Features: []string{"payments"}}
	if !scoped.HasFeature("payments") || scoped.HasFeature("refunds") {
		t.Fatal("feature list not enforced")
	}

	invalid := &Grant{Valid: false, Plan: PlanFree}
	if invalid.HasFeature("payments") {
		t.Fatal("invalid grant must not grant features")
	}

	unlimited := &Grant{Valid: true, UsageLimit: 0, CurrentUsage: 1 << 20}
	if unlimited.UsageExceeded() {
		t.Fatal("zero limit means unmetered")
	}
	metered := &Grant{Valid: true, UsageLimit: 10, CurrentUsage: 10}
	if !metered.UsageExceeded() {
		t.Fatal("usage at limit must be exceeded")
	}
}
