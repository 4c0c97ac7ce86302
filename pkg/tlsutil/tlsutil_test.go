package tlsutil_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paymesh/pluginhost/pkg/tlsutil"
)

// selfSignedCert writes a self-signed cert+key pair to dir and returns their
// paths.
func selfSignedCert(t *testing.T, dir string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "pluginhost-test"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	if err := os.WriteFile(certFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile,
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestLoadDisabled(t *testing.T) {
	t.Parallel()
	cfg, err := tlsutil.Load(tlsutil.Config{Enabled: false})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg != nil {
		t.Fatal("disabled config must yield nil")
	}
}

func TestLoadValidCert(t *testing.T) {
	t.Parallel()
	certFile, keyFile := selfSignedCert(t, t.TempDir())

	cfg, err := tlsutil.Load(tlsutil.Config{Enabled: true, CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("%d certificates, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("MinVersion = %d, want TLS 1.2", cfg.MinVersion)
	}
}

func TestLoadWithCAAndClientAuth(t *testing.T) {
	t.Parallel()
	certFile, keyFile := selfSignedCert(t, t.TempDir())

	cfg, err := tlsutil.Load(tlsutil.Config{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     certFile,
		ClientAuth: "require",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ClientCAs == nil || cfg.RootCAs == nil {
		t.Fatal("CA pools not populated")
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Fatalf("ClientAuth = %v, want RequireAndVerifyClientCert", cfg.ClientAuth)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	certFile, keyFile := selfSignedCert(t, t.TempDir())

	cases := []struct {
		name string
		cfg  tlsutil.Config
	}{
		{"missing keypair", tlsutil.Config{Enabled: true}},
		{"nonexistent cert", tlsutil.Config{Enabled: true, CertFile: "/no/cert.pem", KeyFile: "/no/key.pem"}},
		{"nonexistent CA", tlsutil.Config{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: "/no/ca.pem"}},
		{"bad clientAuth", tlsutil.Config{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientAuth: "maybe"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tlsutil.Load(tc.cfg); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}

	t.Run("bad CA content", func(t *testing.T) {
		t.Parallel()
		badCA := filepath.Join(t.TempDir(), "bad-ca.pem")
		if err := os.WriteFile(badCA, []byte("not pem"), 0o600); err != nil {
			t.Fatalf("write bad CA: %v", err)
		}
		cfg := tlsutil.Config{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: badCA}
		if _, err := tlsutil.Load(cfg); err == nil {
			t.Fatal("invalid CA content accepted")
		}
	})
}
