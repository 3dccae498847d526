// Package transport implements the AS2 HTTP(S) transport: a single POST of
// the secured MIME body to a partner's URL, with the response (status,
// headers, body stream) available to the caller without any buffering of
// the payload on either side.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Shucki/as2-lib/pkg/as2err"
)

// DefaultConnectTimeout and DefaultReadTimeout are the spec-mandated 60s
// defaults, used whenever a HttpTransport leaves the corresponding field
// zero.
const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// Connection is a single AS2 HTTP exchange. Headers accumulate via
// SetHeader; Send streams the body and blocks until the response status
// line and headers have arrived (the underlying round trip, in HTTP terms).
// ResponseBodyStream gives the caller the raw, unread response body — the
// MDN receiver is responsible for bounding how much of it it reads.
type Connection interface {
	SetHeader(name, value string)
	Send(body io.Reader, cte string) (int64, error)
	ResponseCode() int
	ResponseMessage() string
	ResponseHeaders() map[string]string
	ResponseBodyStream() io.ReadCloser
	Close() error
}

// HttpTransport opens AS2 HTTP(S) connections. The zero value is ready to
// use, with 60s connect and read timeouts and a trust-all TLS policy.
//
// Trusting all server certificates by default is deliberate, not an
// oversight: AS2 peer authentication happens at the S/MIME layer (the
// partner's signing certificate), not at TLS, so this transport does not
// verify the server's certificate chain or hostname unless TLSConfig is
// set. Deployments that terminate TLS at a managed reverse proxy, or that
// otherwise want real chain validation, must set TLSConfig explicitly.
type HttpTransport struct {
	// ConnectTimeout bounds dialing the TCP (and TLS) connection. Zero
	// means DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for the response status line and headers,
	// and the whole exchange from the start of Send until Close, including
	// streaming the request body and reading the response body. Zero means
	// DefaultReadTimeout.
	ReadTimeout time.Duration
	// TLSConfig overrides the default trust-all policy when set.
	TLSConfig *tls.Config
}

func (t *HttpTransport) connectTimeout() time.Duration {
	if t.ConnectTimeout > 0 {
		return t.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (t *HttpTransport) readTimeout() time.Duration {
	if t.ReadTimeout > 0 {
		return t.ReadTimeout
	}
	return DefaultReadTimeout
}

func (t *HttpTransport) tlsConfig() *tls.Config {
	if t.TLSConfig != nil {
		return t.TLSConfig
	}
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // see HttpTransport doc comment
}

// Open prepares a new connection to targetURL for method ("POST" for every
// outbound AS2 send), optionally routed through proxy. No network activity
// happens until Send is called.
func (t *HttpTransport) Open(targetURL, method string, proxy *url.URL) (Connection, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, as2err.IO("parsing partner URL", err)
	}

	dialer := &net.Dialer{Timeout: t.connectTimeout()}
	rt := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       t.tlsConfig(),
		ResponseHeaderTimeout: t.readTimeout(),
	}
	if proxy != nil {
		rt.Proxy = http.ProxyURL(proxy)
	}

	return &httpConnection{
		url:         u,
		method:      method,
		client:      &http.Client{Transport: rt},
		headers:     make(http.Header),
		readTimeout: t.readTimeout(),
	}, nil
}

type httpConnection struct {
	url         *url.URL
	method      string
	client      *http.Client
	headers     http.Header
	readTimeout time.Duration

	resp   *http.Response
	cancel context.CancelFunc
}

func (c *httpConnection) SetHeader(name, value string) {
	c.headers.Set(name, value)
}

// Send streams body to the partner URL, applying cte as the
// Content-Transfer-Encoding header when non-empty, and returns the number
// of bytes written. It blocks until the response status line and headers
// have been received; the response body itself is not read here.
func (c *httpConnection) Send(body io.Reader, cte string) (int64, error) {
	counted := &countingReader{r: body}

	ctx, cancel := context.WithTimeout(context.Background(), c.readTimeout)
	req, err := http.NewRequestWithContext(ctx, c.method, c.url.String(), counted)
	if err != nil {
		cancel()
		return 0, as2err.IO("building AS2 request", err)
	}
	req.Header = c.headers.Clone()
	if cte != "" {
		req.Header.Set("Content-Transfer-Encoding", cte)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return counted.n, as2err.IO(fmt.Sprintf("sending AS2 message to %s", c.url), err)
	}

	c.resp = resp
	c.cancel = cancel
	return counted.n, nil
}

func (c *httpConnection) ResponseCode() int {
	if c.resp == nil {
		return 0
	}
	return c.resp.StatusCode
}

func (c *httpConnection) ResponseMessage() string {
	if c.resp == nil {
		return ""
	}
	return c.resp.Status
}

func (c *httpConnection) ResponseHeaders() map[string]string {
	if c.resp == nil {
		return nil
	}
	out := make(map[string]string, len(c.resp.Header))
	for k := range c.resp.Header {
		out[k] = c.resp.Header.Get(k)
	}
	return out
}

func (c *httpConnection) ResponseBodyStream() io.ReadCloser {
	if c.resp == nil {
		return nil
	}
	return c.resp.Body
}

func (c *httpConnection) Close() error {
	var err error
	if c.resp != nil {
		err = c.resp.Body.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
	return err
}

// countingReader wraps an io.Reader to track bytes read, so Send can report
// a byte count without buffering the stream.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
