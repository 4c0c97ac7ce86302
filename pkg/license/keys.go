package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	pemTypePublicKey  = "ED25519 PUBLIC KEY"
	pemTypePrivateKey = "ED25519 PRIVATE KEY"
)

// GenerateKeyPair generates a new Ed25519 signing key pair using crypto/rand.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// MarshalPublicKeyPEM PEM-encodes an Ed25519 public key.
func MarshalPublicKeyPEM(pub ed25519.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: []byte(pub)})
}

// MarshalPrivateKeyPEM PEM-encodes an Ed25519 private key.
func MarshalPrivateKeyPEM(priv ed25519.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: []byte(priv)})
}

// UnmarshalPublicKeyPEM decodes a PEM-encoded Ed25519 public key.
func UnmarshalPublicKeyPEM(pemBytes []byte) (ed25519.PublicKey, error) {
	b, err := decodeBlock(pemBytes, pemTypePublicKey, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(b), nil
}

// UnmarshalPrivateKeyPEM decodes a PEM-encoded Ed25519 private key.
func UnmarshalPrivateKeyPEM(pemBytes []byte) (ed25519.PrivateKey, error) {
	b, err := decodeBlock(pemBytes, pemTypePrivateKey, ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(b), nil
}

func decodeBlock(pemBytes []byte, wantType string, wantSize int) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	if block.Type != wantType {
		return nil, fmt.Errorf("unexpected PEM type: %q", block.Type)
	}
	if len(block.Bytes) != wantSize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(block.Bytes), wantSize)
	}
	out := make([]byte, wantSize)
	copy(out, block.Bytes)
	return out, nil
}
