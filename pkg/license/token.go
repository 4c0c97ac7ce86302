// Package license provides Ed25519-signed license key creation, parsing, and verification.
package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	keyPrefix  = "pmlic"
	keyVersion = "v1"
)

// Key holds the claims embedded in a signed license key.
type Key struct {
	LicenseID    string   `json:"lid"`
	PluginID     string   `json:"pid"`
	TenantID     string   `json:"tid,omitempty"`
	Organization string   `json:"org"`
	Plan         string   `json:"plan"`
	Features     []string `json:"feat"`
	UsageLimit   int64    `json:"max_use,omitempty"`
	IssuedAt     int64    `json:"iat"`
	ExpiresAt    int64    `json:"exp"`

	// set by Parse to enable subsequent Verify calls
	rawPayload string
	rawSig     []byte
}

// Sign produces a signed license key string in the format:
// pmlic.v1.<base64url-payload>.<base64url-signature>
func (k *Key) Sign(privateKey ed25519.PrivateKey) (string, error) {
	payloadBytes, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	message := keyPrefix + "." + keyVersion + "." + payload
	sig := ed25519.Sign(privateKey, []byte(message))
	return message + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Parse splits keyStr on dots, decodes the base64url payload, and returns
// the key. It does NOT verify the signature.
func Parse(keyStr string) (*Key, error) {
	parts := strings.Split(keyStr, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid license key: expected 4 dot-separated parts, got %d", len(parts))
	}
	if parts[0] != keyPrefix {
		return nil, fmt.Errorf("invalid license key prefix: %q", parts[0])
	}
	if parts[1] != keyVersion {
		return nil, fmt.Errorf("unsupported license key version: %q", parts[1])
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var key Key
	if err := json.Unmarshal(payloadBytes, &key); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	key.rawPayload = parts[2]
	key.rawSig = sigBytes
	return &key, nil
}

// Verify verifies the Ed25519 signature over the pmlic.v1.<payload> prefix bytes.
// The key must have been produced by Parse.
func (k *Key) Verify(publicKey ed25519.PublicKey) error {
	if k.rawPayload == "" || k.rawSig == nil {
		return errors.New("key has no signature data: load the key via Parse before calling Verify")
	}
	message := keyPrefix + "." + keyVersion + "." + k.rawPayload
	if !ed25519.Verify(publicKey, []byte(message), k.rawSig) {
		return errors.New("invalid signature")
	}
	return nil
}

// IsExpired returns true if ExpiresAt is in the past.
func (k *Key) IsExpired() bool {
	return time.Now().Unix() > k.ExpiresAt
}

// HasFeature returns true if the given feature name is present in the Features slice.
func (k *Key) HasFeature(name string) bool {
	for _, f := range k.Features {
		if f == name {
			return true
		}
	}
	return false
}
