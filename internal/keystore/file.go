package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileProvider implements CertProvider using PEM files on disk.
//
// This is intended for development and testing only; production deployments
// should use [PKCS11Provider]. Key files are expected at
// {keyDir}/{alias}.key, certificates at {keyDir}/{alias}.crt.
type FileProvider struct {
	keyDir string
	mu     sync.RWMutex
	cache  map[string]*fileSigner
}

// NewFileProvider creates a new file-based certificate provider rooted at
// keyDir.
func NewFileProvider(keyDir string) (*FileProvider, error) {
	info, err := os.Stat(keyDir)
	if err != nil {
		return nil, fmt.Errorf("checking key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key directory is not a directory: %s", keyDir)
	}
	return &FileProvider{keyDir: keyDir, cache: make(map[string]*fileSigner)}, nil
}

// GetSigner loads (or returns the cached) signer for alias.
func (p *FileProvider) GetSigner(ctx context.Context, alias string) (Signer, error) {
	p.mu.RLock()
	if s, ok := p.cache[alias]; ok {
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	s, err := p.loadSigner(alias)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[alias] = s
	p.mu.Unlock()
	return s, nil
}

// GetCertificate loads the certificate for alias.
func (p *FileProvider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	return loadCertificate(filepath.Join(p.keyDir, alias+".crt"))
}

// Close drops the signer cache.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*fileSigner)
	return nil
}

func (p *FileProvider) loadSigner(alias string) (*fileSigner, error) {
	keyPath := filepath.Join(p.keyDir, alias+".key")
	certPath := filepath.Join(p.keyDir, alias+".crt")

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	cert, err := loadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	return &fileSigner{key: key, cert: cert}, nil
}

// fileSigner implements Signer for PEM-file-backed keys.
type fileSigner struct {
	key  crypto.Signer
	cert *x509.Certificate
}

func (s *fileSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

func (s *fileSigner) Public() crypto.PublicKey       { return s.key.Public() }
func (s *fileSigner) Certificate() *x509.Certificate { return s.cert }

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCertNotFound
		}
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	return x509.ParseCertificate(block.Bytes)
}
