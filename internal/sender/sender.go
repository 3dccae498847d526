// Package sender implements the AS2 send orchestrator: the component that
// validates a message, drives it through the security pipeline, transmits
// it, and reconciles a synchronous MDN — retrying transient failures and
// classifying terminal ones per the AS2 core's error taxonomy.
//
// The inheritance chain this collapses from (AbstractSenderModule ->
// AbstractHttpSenderModule -> AS2SenderModule) becomes composition: a
// Sender owns an HttpTransport, a SecurityPipeline, and an MdnReceiver,
// rather than overriding template methods on a base class.
package sender

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Shucki/as2-lib/internal/dump"
	"github.com/Shucki/as2-lib/internal/headers"
	"github.com/Shucki/as2-lib/internal/keystore"
	"github.com/Shucki/as2-lib/internal/mdn"
	"github.com/Shucki/as2-lib/internal/pending"
	"github.com/Shucki/as2-lib/internal/pipeline"
	"github.com/Shucki/as2-lib/pkg/as2err"
	"github.com/Shucki/as2-lib/pkg/message"
	mimepkg "github.com/Shucki/as2-lib/pkg/mime"
	"github.com/Shucki/as2-lib/pkg/security"
	"github.com/Shucki/as2-lib/pkg/transport"
)

// Config configures a Sender. The zero value is usable: it produces a
// Sender with 60s transport timeouts, no dumping, no async-MDN
// persistence, and no MIC or MDN-storage callbacks.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TLSConfig      *tls.Config
	UserAgent      string
	Proxy          *url.URL

	// Pending persists {message-id, MIC, pending path} for async MDN
	// reconciliation. Nil disables persistence; async sends still proceed,
	// they just can't be matched against a later inbound MDN.
	Pending *pending.Store

	// Dump tees outgoing requests and incoming synchronous MDN responses
	// to disk. Nil disables dumping.
	Dump dump.Dumper

	MICHandler     mdn.MICHandler
	MDNStorage     mdn.Storage
	OnVerifiedCert func(cert *x509.Certificate)

	// OnTerminate is invoked exactly once for every terminal (non-retried)
	// send error, per the propagation policy in the spec's error handling
	// design.
	OnTerminate func(msg *message.Message, err error)
}

// Sender is the top-level AS2 send orchestrator. It holds no per-message
// state; a single Sender is shared across every message a process sends,
// as long as its CryptoProvider and CertProvider are themselves safe for
// concurrent use.
type Sender struct {
	Transport     *transport.HttpTransport
	Pipeline      *pipeline.Pipeline
	Crypto        security.CryptoProvider
	Certs         keystore.CertProvider
	HeaderBuilder *headers.Builder
	MDN           *mdn.Receiver
	Pending       *pending.Store
	Dump          dump.Dumper
	Proxy         *url.URL
	Logger        *slog.Logger
	OnTerminate   func(msg *message.Message, err error)
}

// New wires a Sender from a CertProvider and CryptoProvider and the given
// configuration.
func New(certs keystore.CertProvider, crypto security.CryptoProvider, cfg Config, logger *slog.Logger) *Sender {
	if crypto == nil {
		crypto = security.NewDefaultProvider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		Transport: &transport.HttpTransport{
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			TLSConfig:      cfg.TLSConfig,
		},
		Pipeline:      pipeline.New(crypto),
		Crypto:        crypto,
		Certs:         certs,
		HeaderBuilder: &headers.Builder{UserAgent: cfg.UserAgent},
		MDN: &mdn.Receiver{
			Crypto:         crypto,
			Certs:          certs,
			MIC:            cfg.MICHandler,
			Store:          cfg.MDNStorage,
			Dump:           cfg.Dump,
			OnVerifiedCert: cfg.OnVerifiedCert,
		},
		Pending:     cfg.Pending,
		Dump:        cfg.Dump,
		Proxy:       cfg.Proxy,
		Logger:      logger,
		OnTerminate: cfg.OnTerminate,
	}
}

// Send validates, secures, transmits, and (for a synchronous MDN) reconciles
// msg. It retries a failed HTTP attempt up to msg.Partnership.RetryCount
// additional times; every other failure is terminal after a single attempt.
func (s *Sender) Send(ctx context.Context, msg *message.Message) error {
	log := s.logger().With("message_id", msg.MessageID, "as2_to", partnerAS2To(msg))

	if err := checkRequired(msg); err != nil {
		s.terminate(msg, err)
		return err
	}

	cte := contentTransferEncoding(msg.Partnership)

	signer, receiverCert, err := s.resolveKeys(ctx, msg.Partnership)
	if err != nil {
		s.terminate(msg, err)
		return err
	}

	var micInput []byte
	var micCaptured bool
	result, err := s.Pipeline.Secure(msg.Body, cte, msg.Partnership, signer, receiverCert, func(b []byte) {
		micInput = b
		micCaptured = true
	})
	if err != nil {
		s.terminate(msg, err)
		return err
	}

	if msg.Partnership.MDNMode != message.MDNNone {
		canonical := micInput
		if !micCaptured {
			canonical = micInputWithoutSigning(msg, cte)
		}
		mic, merr := s.Crypto.ComputeMIC(canonical, msg.Partnership.SignAlgorithm, msg.Partnership.UseRFC3851MICNames)
		if merr != nil {
			err := as2err.Crypto("computing MIC", merr)
			s.terminate(msg, err)
			return err
		}
		msg.Attrs.Set(message.AttrOriginalMIC, mic.String())

		if msg.Partnership.MDNMode == message.MDNAsync {
			if s.Pending != nil {
				record := pending.Record{MIC: mic.String(), PendingPath: msg.Attrs.Get(message.AttrPendingFile)}
				if perr := s.Pending.Put(msg.MessageID, record); perr != nil {
					err := as2err.IO("persisting pending MDN record", perr)
					s.terminate(msg, err)
					return err
				}
			}
			msg.Attrs.Set(message.AttrStatus, message.StatusPending)
		}
	}

	applyContentTypeSideEffect(msg, result)
	msg.Body = result.Body

	hdrs, err := s.HeaderBuilder.Build(msg)
	if err != nil {
		err = as2err.Config("building headers", err)
		s.terminate(msg, err)
		return err
	}

	retries := msg.Partnership.RetryCount
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		msg.Attrs.Set(message.AttrRetryCount, strconv.Itoa(attempt))
		if attempt > 0 {
			log.Warn("retrying AS2 send", "attempt", attempt, "last_error", lastErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.attempt(ctx, msg, hdrs, cte)
		if lastErr == nil {
			log.Info("AS2 message sent", "attempts", attempt+1)
			s.markSent(msg)
			return nil
		}
		if !as2err.Retryable(lastErr) {
			s.terminate(msg, lastErr)
			return lastErr
		}
	}
	s.terminate(msg, lastErr)
	return lastErr
}

// attempt performs a single HTTP POST of msg's secured body and, for a
// synchronous MDN request, reconciles the response on the same connection.
func (s *Sender) attempt(ctx context.Context, msg *message.Message, hdrs map[string]string, cte string) error {
	conn, err := s.Transport.Open(msg.Partnership.URL, http.MethodPost, s.Proxy)
	if err != nil {
		return as2err.IO("opening AS2 connection", err)
	}
	defer conn.Close()

	for name, value := range hdrs {
		conn.SetHeader(name, value)
	}

	if s.Dump != nil {
		if derr := s.Dump.DumpOutgoing(msg.MessageID, hdrs, msg.Body.Content); derr != nil {
			return as2err.IO("dumping outgoing request", derr)
		}
	}

	if _, err := conn.Send(msg.Body.Reader(), cte); err != nil {
		return err
	}

	code := conn.ResponseCode()
	if !isSuccessStatus(code) {
		return as2err.HTTPResponse(msg.Partnership.URL, code, conn.ResponseMessage())
	}

	if msg.Partnership.MDNMode == message.MDNSync {
		_, err := s.MDN.Receive(ctx, msg, conn)
		return err
	}
	return nil
}

func (s *Sender) markSent(msg *message.Message) {
	if msg.Attrs.Get(message.AttrStatus) != message.StatusPending {
		msg.Attrs.Set(message.AttrStatus, message.StatusSent)
	}
}

func (s *Sender) terminate(msg *message.Message, err error) {
	s.logger().Error("AS2 send terminated", "message_id", msg.MessageID, "error", err)
	msg.Attrs.Set(message.AttrStatus, message.StatusError)
	msg.Attrs.Set(message.AttrTerminated, "true")
	if s.OnTerminate != nil {
		s.OnTerminate(msg, err)
	}
}

func (s *Sender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// resolveKeys looks up the sender's signing key and the receiver's
// encryption certificate by partnership alias, only when the corresponding
// algorithm is configured.
func (s *Sender) resolveKeys(ctx context.Context, p *message.Partnership) (security.Signer, *x509.Certificate, error) {
	var signer security.Signer
	var receiverCert *x509.Certificate

	if p.SignAlgorithm != "" {
		if s.Certs == nil {
			return nil, nil, as2err.Config("signing configured without a certificate provider", nil)
		}
		ks, err := s.Certs.GetSigner(ctx, p.SenderCertAlias)
		if err != nil {
			return nil, nil, as2err.Config(fmt.Sprintf("resolving sender signer %q", p.SenderCertAlias), err)
		}
		signer = ks
	}

	if p.EncryptAlgorithm != "" {
		if s.Certs == nil {
			return nil, nil, as2err.Config("encryption configured without a certificate provider", nil)
		}
		cert, err := s.Certs.GetCertificate(ctx, p.ReceiverCertAlias)
		if err != nil {
			return nil, nil, as2err.Config(fmt.Sprintf("resolving receiver certificate %q", p.ReceiverCertAlias), err)
		}
		receiverCert = cert
	}

	return signer, receiverCert, nil
}

// checkRequired enforces the spec's required-field list ahead of running
// the pipeline, so a misconfigured message fails fast with a field name
// rather than a confusing downstream crypto or transport error.
func checkRequired(msg *message.Message) error {
	switch {
	case msg.ContentType == "":
		return as2err.InvalidParameter("content-type", msg.MessageID)
	case msg.Partnership == nil || msg.Partnership.URL == "":
		return as2err.InvalidParameter("partnership.url", msg.MessageID)
	case msg.Partnership.SenderAS2ID == "":
		return as2err.InvalidParameter("partnership.sender-as2-id", msg.MessageID)
	case msg.Partnership.ReceiverAS2ID == "":
		return as2err.InvalidParameter("partnership.receiver-as2-id", msg.MessageID)
	case msg.Subject == "":
		return as2err.InvalidParameter("subject", msg.MessageID)
	case msg.SenderEmail == "":
		return as2err.InvalidParameter("sender-email", msg.MessageID)
	case msg.Body == nil || len(msg.Body.Content) == 0:
		return as2err.InvalidParameter("body", msg.MessageID)
	}
	if err := msg.Partnership.Validate(); err != nil {
		return as2err.Config(err.Error(), nil)
	}
	return nil
}

func contentTransferEncoding(p *message.Partnership) string {
	if p.ContentTransferEncoding != "" {
		return p.ContentTransferEncoding
	}
	return "binary"
}

// applyContentTypeSideEffect implements the spec's §4.1 header side
// effect: a compression-only pipeline (no sign, no encrypt) reports
// application/octet-stream to the transport layer; otherwise the final
// body part's own Content-Type is authoritative.
func applyContentTypeSideEffect(msg *message.Message, result *pipeline.Result) {
	if result.Compressed && !result.Signed && !result.Encrypted {
		msg.ContentType = "application/octet-stream"
	} else {
		msg.ContentType = result.Body.ContentType
	}
}

// micInputWithoutSigning computes the MIC input bytes for a partnership
// that requests an MDN but whose pipeline never fixes a MIC input itself —
// no compress-before-sign stage and no signing. This is the "compress
// after sign position, but no signing configured" and "nothing configured
// but MDN requested" cases: per spec §4.2 the MIC covers the source body
// (not whatever a trailing compression/encryption stage later produces),
// with headers included iff compression or encryption is configured.
func micInputWithoutSigning(msg *message.Message, cte string) []byte {
	p := msg.Partnership
	includeHeaders := p.CompressionType != "" || p.EncryptAlgorithm != ""
	if !includeHeaders {
		return msg.Body.Content
	}
	return mimepkg.Canonicalize(msg.Body.ContentType, cte, nil, msg.Body.Content)
}

func isSuccessStatus(code int) bool {
	switch code {
	case 200, 201, 202, 204, 206:
		return true
	default:
		return false
	}
}

func partnerAS2To(msg *message.Message) string {
	if msg.Partnership == nil {
		return ""
	}
	return msg.Partnership.ReceiverAS2ID
}
