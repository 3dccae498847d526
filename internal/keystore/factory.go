package keystore

import (
	"crypto/x509"
	"fmt"
	"os"
)

// Config selects and configures a CertProvider implementation. It is
// embedded in the sender's top-level configuration so partnerships can
// simply name an alias without caring whether it resolves through a PEM
// file or a PKCS#11 token.
type Config struct {
	// Mode is "file" or "pkcs11".
	Mode string `yaml:"mode"`

	File   FileConfig   `yaml:"file"`
	PKCS11 PKCS11Config `yaml:"pkcs11"`

	Trust TrustOptions `yaml:"trust"`
}

// FileConfig configures FileProvider.
type FileConfig struct {
	KeyDir string `yaml:"keyDir"`
}

// TrustOptions is the YAML rendering of TrustConfig. Leaving RootsFile
// empty disables chain and revocation checking, matching AS2's usual
// deployment mode of pinning exchanged certificates directly by alias
// rather than validating them against a CA.
type TrustOptions struct {
	RootsFile        string `yaml:"rootsFile"`
	CheckRevocation  bool   `yaml:"checkRevocation"`
	StrictRevocation bool   `yaml:"strictRevocation"`
}

// NewProvider constructs a CertProvider from cfg, wrapping it in a
// ValidatingProvider when cfg.Trust.RootsFile names a root bundle.
func NewProvider(cfg Config) (CertProvider, error) {
	var base CertProvider
	var err error
	switch cfg.Mode {
	case "", "file":
		keyDir := cfg.File.KeyDir
		if keyDir == "" {
			keyDir = "./keys"
		}
		base, err = NewFileProvider(keyDir)
	case "pkcs11":
		p11cfg := cfg.PKCS11
		base, err = NewPKCS11Provider(&p11cfg)
	default:
		return nil, fmt.Errorf("keystore: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Trust.RootsFile == "" {
		return base, nil
	}
	roots, err := loadRoots(cfg.Trust.RootsFile)
	if err != nil {
		return nil, fmt.Errorf("keystore: loading trust roots: %w", err)
	}
	return NewValidatingProvider(base, TrustConfig{
		Roots:            roots,
		CheckRevocation:  cfg.Trust.CheckRevocation,
		StrictRevocation: cfg.Trust.StrictRevocation,
	}), nil
}

func loadRoots(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
