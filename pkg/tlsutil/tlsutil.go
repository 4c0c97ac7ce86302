// Package tlsutil builds *tls.Config values from the host's YAML-friendly
// TLS settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config is the TLS section of the server configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	// CAFile, when set, is used both as the root pool for outbound
	// verification and as the client CA pool for mutual TLS.
	CAFile string `yaml:"caFile"`
	// ClientAuth is "require", "request" or "none" (default).
	ClientAuth string `yaml:"clientAuth"`
}

// Load builds a *tls.Config. A disabled Config yields (nil, nil) so callers
// can pass the result straight to http.Server.
func Load(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("tls enabled but certFile/keyFile not set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certificates in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
		tlsCfg.ClientCAs = pool
	}

	switch cfg.ClientAuth {
	case "require":
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	case "request":
		tlsCfg.ClientAuth = tls.RequestClientCert
	case "none", "":
		tlsCfg.ClientAuth = tls.NoClientCert
	default:
		return nil, fmt.Errorf("unknown clientAuth %q (valid: require, request, none)", cfg.ClientAuth)
	}

	return tlsCfg, nil
}
