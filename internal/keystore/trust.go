// Certificate trust and revocation checking for certificates CertProvider
// resolves on a partner's behalf: a partnership's ReceiverCertAlias, or
// the certificate embedded in an inbound S/MIME signature.
package keystore

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	// ErrCertificateExpired is returned when a certificate has expired.
	ErrCertificateExpired = errors.New("certificate has expired")
	// ErrCertificateNotYetValid is returned when a certificate is not yet valid.
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	// ErrCertificateUntrusted is returned when a certificate does not chain to a configured root.
	ErrCertificateUntrusted = errors.New("certificate is not trusted")
	// ErrCertificateRevoked is returned when OCSP reports a certificate as revoked.
	ErrCertificateRevoked = errors.New("certificate has been revoked")
)

// TrustConfig configures ValidatingProvider. A zero value (no Roots) makes
// GetCertificate a pass-through: AS2 deployments very often run against a
// fixed, manually exchanged set of partner certificates with no CA behind
// them, so chain validation is opt-in rather than assumed.
type TrustConfig struct {
	// Roots validates the chain a resolved certificate builds to. Nil
	// disables chain and revocation checking entirely.
	Roots *x509.CertPool

	// CheckRevocation additionally queries the OCSP responder named in
	// the certificate's AuthorityInfoAccess extension, once the chain
	// itself validates.
	CheckRevocation bool

	// StrictRevocation fails GetCertificate when the OCSP responder
	// can't be reached or returns an unknown status. The default treats
	// an unreachable responder as "not revoked" rather than blocking
	// outbound mail on a transient network problem.
	StrictRevocation bool

	OCSPTimeout  time.Duration
	OCSPCacheTTL time.Duration
}

// ValidatingProvider wraps a CertProvider, checking every certificate
// GetCertificate resolves against cfg before returning it.
type ValidatingProvider struct {
	CertProvider
	cfg    TrustConfig
	client *http.Client
	cache  *ocspCache
}

// NewValidatingProvider wraps base with the checks cfg describes.
func NewValidatingProvider(base CertProvider, cfg TrustConfig) *ValidatingProvider {
	if cfg.OCSPTimeout == 0 {
		cfg.OCSPTimeout = 10 * time.Second
	}
	if cfg.OCSPCacheTTL == 0 {
		cfg.OCSPCacheTTL = time.Hour
	}
	return &ValidatingProvider{
		CertProvider: base,
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.OCSPTimeout},
		cache:        newOCSPCache(cfg.OCSPCacheTTL),
	}
}

// GetCertificate resolves alias through the wrapped provider, then checks
// validity, chain trust, and (if configured) revocation before returning
// it.
func (p *ValidatingProvider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	cert, err := p.CertProvider.GetCertificate(ctx, alias)
	if err != nil {
		return nil, err
	}
	if p.cfg.Roots == nil {
		return cert, nil
	}

	now := time.Now()
	if now.Before(cert.NotBefore) {
		return nil, fmt.Errorf("keystore: alias %q: %w", alias, ErrCertificateNotYetValid)
	}
	if now.After(cert.NotAfter) {
		return nil, fmt.Errorf("keystore: alias %q: %w", alias, ErrCertificateExpired)
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:       p.cfg.Roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: alias %q: %w: %v", alias, ErrCertificateUntrusted, err)
	}

	if p.cfg.CheckRevocation && len(chains) > 0 && len(chains[0]) > 1 {
		issuer := chains[0][1]
		if err := p.checkOCSP(ctx, cert, issuer); err != nil {
			return nil, fmt.Errorf("keystore: alias %q: %w", alias, err)
		}
	}
	return cert, nil
}

func (p *ValidatingProvider) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	serial := cert.SerialNumber.String()
	if cached, ok := p.cache.get(serial); ok {
		return cached
	}

	if len(cert.OCSPServer) == 0 {
		if p.cfg.StrictRevocation {
			return fmt.Errorf("no OCSP responder named in certificate")
		}
		return nil
	}

	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("building OCSP request: %w", err)
	}

	raw, err := p.doOCSP(ctx, cert.OCSPServer[0], req)
	if err != nil {
		if p.cfg.StrictRevocation {
			return fmt.Errorf("OCSP request: %w", err)
		}
		return nil
	}

	resp, err := ocsp.ParseResponse(raw, issuer)
	if err != nil {
		if p.cfg.StrictRevocation {
			return fmt.Errorf("parsing OCSP response: %w", err)
		}
		return nil
	}

	var result error
	switch resp.Status {
	case ocsp.Good:
		result = nil
	case ocsp.Revoked:
		result = ErrCertificateRevoked
	default:
		if p.cfg.StrictRevocation {
			result = fmt.Errorf("OCSP responder returned an unknown status")
		}
	}
	p.cache.set(serial, result)
	return result
}

// doOCSP tries the POST form of the OCSP request first, falling back to
// the base64url-encoded GET form some responders require.
func (p *ValidatingProvider) doOCSP(ctx context.Context, responderURL string, raw []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, responderURL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return p.doOCSPGet(ctx, responderURL, raw)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.doOCSPGet(ctx, responderURL, raw)
	}
	return io.ReadAll(resp.Body)
}

func (p *ValidatingProvider) doOCSPGet(ctx context.Context, responderURL string, raw []byte) ([]byte, error) {
	reqURL := responderURL + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(raw))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/ocsp-response")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCSP responder returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ocspCache is a short-lived, serial-number-keyed cache of OCSP outcomes,
// so a chatty partnership doesn't round-trip to the responder on every
// message.
type ocspCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]ocspCacheEntry
}

type ocspCacheEntry struct {
	err       error
	checkedAt time.Time
}

func newOCSPCache(ttl time.Duration) *ocspCache {
	return &ocspCache{ttl: ttl, items: make(map[string]ocspCacheEntry)}
}

func (c *ocspCache) get(serial string) (error, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[serial]
	if !ok || time.Since(entry.checkedAt) > c.ttl {
		return nil, false
	}
	return entry.err, true
}

func (c *ocspCache) set(serial string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[serial] = ocspCacheEntry{err: err, checkedAt: time.Now()}
}
