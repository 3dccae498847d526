// Package mdn implements the AS2 message disposition notification
// receiver: parsing, signature verification, MIC reconciliation, and
// disposition classification for a synchronous MDN returned on the same
// HTTP response as the original send.
package mdn

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Shucki/as2-lib/internal/dump"
	"github.com/Shucki/as2-lib/pkg/as2err"
	"github.com/Shucki/as2-lib/pkg/message"
	mimepkg "github.com/Shucki/as2-lib/pkg/mime"
	"github.com/Shucki/as2-lib/pkg/security"
	"github.com/Shucki/as2-lib/pkg/transport"
)

// CertResolver resolves the certificate that should have signed an MDN, by
// the alias of the partnership's *other* side: the MDN is signed by the
// message receiver, so when verifying it the sender looks up the receiver's
// certificate under its own key-alias bookkeeping. Receive looks up
// msg.Partnership.ReceiverCertAlias (MDN sender alias = original message
// receiver alias).
type CertResolver interface {
	GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error)
}

// MICHandler receives the outcome of comparing the MIC the sender computed
// against the MIC the MDN reports back. Both methods must be implemented;
// leaving Receiver.MIC nil skips MIC reconciliation altogether.
type MICHandler interface {
	OnMICMatch(msg *message.Message, reported message.MIC)
	OnMICMismatch(msg *message.Message, original, reported message.MIC)
}

// Storage persists a received MDN. A nil Storage on Receiver means no
// persistence is attempted — the spec treats that as the normal case, not
// an error.
type Storage interface {
	StoreMDN(msg *message.Message, mdn *message.MDN) error
}

// Receiver parses and validates a synchronous MDN returned on an AS2 POST's
// HTTP response.
type Receiver struct {
	Crypto security.CryptoProvider
	Certs  CertResolver
	MIC    MICHandler
	Store  Storage
	Dump   dump.Dumper

	// OnVerifiedCert, if set, is invoked with the certificate that actually
	// verified a signed MDN's signature.
	OnVerifiedCert func(cert *x509.Certificate)
}

// Receive reads conn's response (already sent by the caller), parses it as
// an MDN, verifies its signature if present, reconciles the MIC against
// msg's stashed original MIC, and classifies the disposition. Once the
// response body has been read (and dumped, if a Dumper is set), it returns
// the MDN built so far alongside any error (so a caller can inspect it even
// on a DispositionError); a non-nil error then means the disposition
// category is "error", the signed MDN or its report could not be parsed or
// verified, or Store failed. A failure to read or dump the body returns a
// nil MDN and an IO error.
func (r *Receiver) Receive(ctx context.Context, msg *message.Message, conn transport.Connection) (*message.MDN, error) {
	headers := conn.ResponseHeaders()

	body, err := readBoundedBody(conn.ResponseBodyStream(), headers)
	if err != nil {
		return nil, as2err.IO("reading MDN response body", err)
	}

	if r.Dump != nil {
		if derr := r.Dump.DumpIncoming(msg.MessageID, headers, body); derr != nil {
			return nil, as2err.IO("dumping MDN response", derr)
		}
	}

	contentType := headers["Content-Type"]
	mdn := &message.MDN{Headers: headers}

	reportContentType, reportBody := contentType, body
	if isMultipartSigned(contentType) {
		content, signature, perr := mimepkg.ParseSigned(contentType, body)
		if perr != nil {
			return mdn, as2err.MdnVerify("parsing signed MDN", perr)
		}

		var knownSigner *x509.Certificate
		if r.Certs != nil {
			knownSigner, err = r.Certs.GetCertificate(ctx, msg.Partnership.ReceiverCertAlias)
			if err != nil {
				return mdn, as2err.MdnVerify("resolving MDN signer certificate", err)
			}
		}

		signedBytes := mimepkg.Canonicalize(
			content.Headers.Get("Content-Type"),
			content.Headers.Get("Content-Transfer-Encoding"),
			nil,
			content.Content,
		)
		verifiedBy, verr := r.Crypto.Verify(signedBytes, signature, knownSigner)
		if verr != nil {
			return mdn, as2err.MdnVerify("verifying MDN signature", verr)
		}
		if r.OnVerifiedCert != nil {
			r.OnVerifiedCert(verifiedBy)
		}

		reportContentType = content.Headers.Get("Content-Type")
		reportBody = content.Content
	}

	report, err := parseDispositionNotification(reportContentType, reportBody)
	if err != nil {
		return mdn, as2err.MdnVerify("parsing disposition-notification report", err)
	}
	mdn.Disposition = report.disposition
	mdn.ReportedMIC = report.mic
	mdn.Explanation = report.explanation

	r.reconcileMIC(msg, mdn)
	msg.MDNReceived = mdn

	if r.Store != nil {
		if serr := r.Store.StoreMDN(msg, mdn); serr != nil {
			return mdn, as2err.IO("storing MDN", serr)
		}
	}

	switch category(report.disposition) {
	case categoryError:
		return mdn, as2err.Disposition(report.disposition, false)
	case categoryWarning:
		slog.Default().Warn("MDN reported a warning disposition",
			"message_id", msg.MessageID, "disposition", report.disposition)
		return mdn, nil
	default:
		return mdn, nil
	}
}

// reconcileMIC compares the MIC the sender stashed before transmission
// against the one the MDN reports back. Per spec §4.5 step 8, success
// requires both to be present and byte-equal; either one being absent or
// unparseable is itself a mismatch, not a situation to stay silent about.
func (r *Receiver) reconcileMIC(msg *message.Message, mdn *message.MDN) {
	if r.MIC == nil {
		return
	}

	reported := mdnReportedMIC(mdn)
	raw := msg.Attrs.Get(message.AttrOriginalMIC)
	original, err := message.ParseMICString(raw)
	if err != nil {
		r.MIC.OnMICMismatch(msg, message.MIC{}, reported)
		return
	}
	if mdn.ReportedMIC == nil {
		r.MIC.OnMICMismatch(msg, original, reported)
		return
	}

	if original.Equal(*mdn.ReportedMIC) {
		r.MIC.OnMICMatch(msg, *mdn.ReportedMIC)
	} else {
		r.MIC.OnMICMismatch(msg, original, *mdn.ReportedMIC)
	}
}

func mdnReportedMIC(mdn *message.MDN) message.MIC {
	if mdn.ReportedMIC == nil {
		return message.MIC{}
	}
	return *mdn.ReportedMIC
}

// readBoundedBody copies exactly Content-Length bytes when the header is
// present (erroring on a premature EOF), or reads to EOF otherwise.
func readBoundedBody(r io.Reader, headers map[string]string) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	if cl, ok := headers["Content-Length"]; ok && cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mdn: malformed Content-Length %q: %w", cl, err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("mdn: reading %d bytes per Content-Length: %w", n, err)
		}
		return buf, nil
	}
	return io.ReadAll(r)
}

func isMultipartSigned(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "multipart/signed")
}

type dispositionCategory int

const (
	categoryProcessed dispositionCategory = iota
	categoryWarning
	categoryError
)

// category classifies an RFC 3798 disposition field per the spec's three
// buckets: "processed" (success), "warning" (logged, treated as success),
// "error" (raises DispositionError).
func category(disposition string) dispositionCategory {
	lower := strings.ToLower(disposition)
	switch {
	case strings.Contains(lower, "/error") || strings.Contains(lower, "failed"):
		return categoryError
	case strings.Contains(lower, "/warning"):
		return categoryWarning
	default:
		return categoryProcessed
	}
}
