package license_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/paymesh/pluginhost/pkg/license"
)

func newTestKey() *license.Key {
	return &license.Key{
		LicenseID:    "lic-0001",
		PluginID:     "alipay-official",
		TenantID:     "tenant-42",
		Organization: "ACME Commerce",
		Plan:         "enterprise",
		Features:     []string{"payments", "refunds", "webhooks"},
		UsageLimit:   100000,
		IssuedAt:     time.Now().Unix(),
		ExpiresAt:    time.Now().Add(365 * 24 * time.Hour).Unix(),
	}
}

func TestRoundTrip(t *testing.T) {
	pub, priv, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	k := newTestKey()
	keyStr, err := k.Sign(priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !strings.HasPrefix(keyStr, "pmlic.v1.") {
		t.Errorf("unexpected key prefix: %s", keyStr)
	}

	parsed, err := license.Parse(keyStr)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := parsed.Verify(pub); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if parsed.LicenseID != k.LicenseID {
		t.Errorf("LicenseID: got %q, want %q", parsed.LicenseID, k.LicenseID)
	}
	if parsed.PluginID != k.PluginID {
		t.Errorf("PluginID: got %q, want %q", parsed.PluginID, k.PluginID)
	}
	if parsed.Plan != k.Plan {
		t.Errorf("Plan: got %q, want %q", parsed.Plan, k.Plan)
	}
	if parsed.UsageLimit != k.UsageLimit {
		t.Errorf("UsageLimit: got %d, want %d", parsed.UsageLimit, k.UsageLimit)
	}
	if len(parsed.Features) != len(k.Features) {
		t.Errorf("Features length: got %d, want %d", len(parsed.Features), len(k.Features))
	}
}

func TestVerifyWrongKey(t *testing.T) {
	_, priv, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	otherPub, _, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	keyStr, err := newTestKey().Sign(priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	parsed, err := license.Parse(keyStr)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := parsed.Verify(otherPub); err == nil {
		t.Error("expected Verify to fail with wrong public key")
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	pub, priv, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	keyStr, err := newTestKey().Sign(priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	parts := strings.Split(keyStr, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(payload), "enterprise", "ultimate", 1)
	parts[2] = base64.RawURLEncoding.EncodeToString([]byte(tampered))

	parsed, err := license.Parse(strings.Join(parts, "."))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := parsed.Verify(pub); err == nil {
		t.Error("expected Verify to fail for tampered payload")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"pmlic.v1.only-three",
		"wrong.v1.payload.sig",
		"pmlic.v9.payload.sig",
		"pmlic.v1.!!!.sig",
	}
	for _, c := range cases {
		if _, err := license.Parse(c); err == nil {
			t.Errorf("expected Parse(%q) to fail", c)
		}
	}
}

func TestExpiryAndFeatures(t *testing.T) {
	k := newTestKey()
	if k.IsExpired() {
		t.Error("fresh key should not be expired")
	}
	k.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	if !k.IsExpired() {
		t.Error("expected IsExpired for past ExpiresAt")
	}

	if !k.HasFeature("refunds") {
		t.Error("expected HasFeature(refunds)")
	}
	if k.HasFeature("nonexistent") {
		t.Error("did not expect HasFeature(nonexistent)")
	}
}

func TestKeyPEMRoundTrip(t *testing.T) {
	pub, priv, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	pub2, err := license.UnmarshalPublicKeyPEM(license.MarshalPublicKeyPEM(pub))
	if err != nil {
		t.Fatalf("UnmarshalPublicKeyPEM: %v", err)
	}
	if !pub.Equal(pub2) {
		t.Error("public key did not survive PEM round trip")
	}

	priv2, err := license.UnmarshalPrivateKeyPEM(license.MarshalPrivateKeyPEM(priv))
	if err != nil {
		t.Fatalf("UnmarshalPrivateKeyPEM: %v", err)
	}
	if !priv.Equal(priv2) {
		t.Error("private key did not survive PEM round trip")
	}
}
