//go:build pkcs11

// Package keystore provides the PKCS#11 signer implementation.
package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"sync"

	"github.com/ThalesGroup/crypto11"
)

// PKCS11Provider implements CertProvider using a PKCS#11 token (HSM or
// smart card). An alias is used directly as the PKCS#11 object label; there
// is no tenant or session indirection.
type PKCS11Provider struct {
	ctx     *crypto11.Context
	mu      sync.RWMutex
	signers map[string]*pkcs11Signer
}

// PKCS11Config holds configuration for the PKCS#11 provider.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll).
	ModulePath string `yaml:"modulePath"`

	// SlotID is the slot number to use (optional if SlotLabel is provided).
	SlotID *uint `yaml:"slotId,omitempty"`

	// SlotLabel is the token label to search for (optional if SlotID is
	// provided).
	SlotLabel string `yaml:"slotLabel"`

	// PIN is the user PIN for authentication.
	PIN string `yaml:"pin"`
}

// NewPKCS11Provider opens the PKCS#11 module described by cfg.
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	config := &crypto11.Config{
		Path: cfg.ModulePath,
		Pin:  cfg.PIN,
	}
	if cfg.SlotID != nil {
		slotID := int(*cfg.SlotID)
		config.SlotNumber = &slotID
	}
	if cfg.SlotLabel != "" {
		config.TokenLabel = cfg.SlotLabel
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}

	return &PKCS11Provider{
		ctx:     ctx,
		signers: make(map[string]*pkcs11Signer),
	}, nil
}

// GetSigner resolves alias to a key+certificate pair held by the token,
// using alias directly as the PKCS#11 object label.
func (p *PKCS11Provider) GetSigner(ctx context.Context, alias string) (Signer, error) {
	p.mu.RLock()
	if s, ok := p.signers[alias]; ok {
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	s, err := p.loadSigner(alias)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.signers[alias] = s
	p.mu.Unlock()
	return s, nil
}

// GetCertificate resolves alias to the certificate held by the token.
func (p *PKCS11Provider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	cert, err := p.ctx.FindCertificate(nil, []byte(alias), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, ErrCertNotFound
	}
	return cert, nil
}

// Close releases the PKCS#11 session.
func (p *PKCS11Provider) Close() error {
	return p.ctx.Close()
}

func (p *PKCS11Provider) loadSigner(alias string) (*pkcs11Signer, error) {
	key, err := p.ctx.FindKeyPair(nil, []byte(alias))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	cert, err := p.ctx.FindCertificate(nil, []byte(alias), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, ErrCertNotFound
	}

	return &pkcs11Signer{key: key, cert: cert}, nil
}

// pkcs11Signer implements Signer using a PKCS#11-backed key.
type pkcs11Signer struct {
	key  crypto.Signer
	cert *x509.Certificate
}

func (s *pkcs11Signer) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

func (s *pkcs11Signer) Public() crypto.PublicKey       { return s.key.Public() }
func (s *pkcs11Signer) Certificate() *x509.Certificate { return s.cert }
