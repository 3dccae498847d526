package security

import (
	"crypto/x509"

	"github.com/Shucki/as2-lib/pkg/compression"
	"github.com/Shucki/as2-lib/pkg/message"
)

// CryptoProvider is the pure, I/O-free crypto surface the security
// pipeline depends on: it computes MICs and signs, encrypts, and
// compresses a MIME body part. It never touches a keystore or the
// network; callers resolve key material and pass it in.
type CryptoProvider interface {
	ComputeMIC(canonical []byte, algorithm string, useRFC3851Names bool) (message.MIC, error)
	Sign(content []byte, signer Signer, algorithm string, includeCert bool) ([]byte, error)
	Verify(content, signature []byte, knownSigner *x509.Certificate) (*x509.Certificate, error)
	Encrypt(content []byte, receiverCert *x509.Certificate, algorithm string) ([]byte, error)
	Decrypt(enveloped []byte, cert *x509.Certificate, key Decryptor) ([]byte, error)
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// DefaultProvider is the stateless, concurrency-safe [CryptoProvider]
// implementation backed by this package's CMS primitives and
// pkg/compression. There is no configuration to hold, so the zero value
// is ready to use and a single instance may be shared across every
// message the sender processes.
type DefaultProvider struct{}

// NewDefaultProvider returns the standard CryptoProvider.
func NewDefaultProvider() *DefaultProvider { return &DefaultProvider{} }

func (DefaultProvider) ComputeMIC(canonical []byte, algorithm string, useRFC3851Names bool) (message.MIC, error) {
	return ComputeMIC(canonical, algorithm, useRFC3851Names)
}

func (DefaultProvider) Sign(content []byte, signer Signer, algorithm string, includeCert bool) ([]byte, error) {
	return Sign(content, signer, algorithm, includeCert)
}

func (DefaultProvider) Verify(content, signature []byte, knownSigner *x509.Certificate) (*x509.Certificate, error) {
	return Verify(content, signature, knownSigner)
}

func (DefaultProvider) Encrypt(content []byte, receiverCert *x509.Certificate, algorithm string) ([]byte, error) {
	return Encrypt(content, receiverCert, algorithm)
}

func (DefaultProvider) Decrypt(enveloped []byte, cert *x509.Certificate, key Decryptor) ([]byte, error) {
	return Decrypt(enveloped, cert, key)
}

func (DefaultProvider) Compress(data []byte) ([]byte, error) {
	return compression.Compress(data)
}

func (DefaultProvider) Decompress(data []byte) ([]byte, error) {
	return compression.Decompress(data)
}

var _ CryptoProvider = DefaultProvider{}
