package keystore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

// stubProvider is a fake CertProvider returning one fixed certificate
// regardless of the alias asked for.
type stubProvider struct {
	cert *x509.Certificate
}

func (s *stubProvider) GetSigner(ctx context.Context, alias string) (Signer, error) {
	return nil, ErrKeyNotFound
}

func (s *stubProvider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	return s.cert, nil
}

func (s *stubProvider) Close() error { return nil }

type issuedChain struct {
	caKey *rsa.PrivateKey
	ca    *x509.Certificate
	leaf  *x509.Certificate
}

func issueCA(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)
	return caKey, ca
}

// issueLeaf signs a leaf certificate under ca/caKey, with the given
// validity window and (if non-empty) OCSPServer URL.
func issueLeaf(t *testing.T, caKey *rsa.PrivateKey, ca *x509.Certificate, notBefore, notAfter time.Time, ocspURL string) *x509.Certificate {
	t.Helper()
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "partner"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		BasicConstraintsValid: true,
	}
	if ocspURL != "" {
		leafTemplate.OCSPServer = []string{ocspURL}
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, ca, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)
	return leaf
}

func validLeaf(t *testing.T, ocspURL string) issuedChain {
	caKey, ca := issueCA(t)
	leaf := issueLeaf(t, caKey, ca, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour), ocspURL)
	return issuedChain{caKey: caKey, ca: ca, leaf: leaf}
}

func TestValidatingProviderPassThroughWithoutRoots(t *testing.T) {
	chain := validLeaf(t, "")
	p := NewValidatingProvider(&stubProvider{cert: chain.leaf}, TrustConfig{})

	got, err := p.GetCertificate(context.Background(), "partner")
	require.NoError(t, err)
	assert.Equal(t, chain.leaf.Raw, got.Raw)
}

func TestValidatingProviderRejectsUntrustedCertificate(t *testing.T) {
	chain := validLeaf(t, "")
	p := NewValidatingProvider(&stubProvider{cert: chain.leaf}, TrustConfig{Roots: x509.NewCertPool()})

	_, err := p.GetCertificate(context.Background(), "partner")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCertificateUntrusted)
}

func TestValidatingProviderAcceptsTrustedCertificate(t *testing.T) {
	chain := validLeaf(t, "")
	roots := x509.NewCertPool()
	roots.AddCert(chain.ca)
	p := NewValidatingProvider(&stubProvider{cert: chain.leaf}, TrustConfig{Roots: roots})

	got, err := p.GetCertificate(context.Background(), "partner")
	require.NoError(t, err)
	assert.Equal(t, chain.leaf.Raw, got.Raw)
}

func TestValidatingProviderRejectsExpiredCertificate(t *testing.T) {
	caKey, ca := issueCA(t)
	leaf := issueLeaf(t, caKey, ca, time.Now().Add(-48*time.Hour), time.Now().Add(-time.Hour), "")
	roots := x509.NewCertPool()
	roots.AddCert(ca)
	p := NewValidatingProvider(&stubProvider{cert: leaf}, TrustConfig{Roots: roots})

	_, err := p.GetCertificate(context.Background(), "partner")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCertificateExpired)
}

// serverBackedLeaf issues a CA and a leaf certificate whose OCSPServer
// points at a freshly started OCSP responder answering status for that
// leaf's serial number. The server's URL can only be known once it has
// started, so the leaf is signed after the responder is already up.
func serverBackedLeaf(t *testing.T, status int) (issuedChain, *int) {
	t.Helper()
	caKey, ca := issueCA(t)
	serial := big.NewInt(2)

	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		template := ocsp.Response{
			Status:       status,
			SerialNumber: serial,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
		}
		resp, err := ocsp.CreateResponse(ca, ca, template, caKey)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
	t.Cleanup(server.Close)

	leaf := issueLeaf(t, caKey, ca, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour), server.URL)
	return issuedChain{caKey: caKey, ca: ca, leaf: leaf}, &count
}

func TestValidatingProviderRevocationRevokedAndCached(t *testing.T) {
	chain, requests := serverBackedLeaf(t, ocsp.Revoked)

	roots := x509.NewCertPool()
	roots.AddCert(chain.ca)
	p := NewValidatingProvider(&stubProvider{cert: chain.leaf}, TrustConfig{
		Roots:           roots,
		CheckRevocation: true,
	})

	_, err := p.GetCertificate(context.Background(), "partner")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCertificateRevoked)
	assert.Equal(t, 1, *requests)

	_, err = p.GetCertificate(context.Background(), "partner")
	require.Error(t, err)
	assert.Equal(t, 1, *requests, "revocation result must be cached by serial number")
}

func TestValidatingProviderRevocationGoodStatusPasses(t *testing.T) {
	chain, _ := serverBackedLeaf(t, ocsp.Good)

	roots := x509.NewCertPool()
	roots.AddCert(chain.ca)
	p := NewValidatingProvider(&stubProvider{cert: chain.leaf}, TrustConfig{
		Roots:           roots,
		CheckRevocation: true,
	})

	got, err := p.GetCertificate(context.Background(), "partner")
	require.NoError(t, err)
	assert.Equal(t, chain.leaf.Raw, got.Raw)
}
