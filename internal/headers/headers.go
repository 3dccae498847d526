// Package headers assembles the outbound AS2 HTTP header set for a message,
// merging message-specific values over a small set of protocol defaults.
package headers

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shucki/as2-lib/pkg/message"
)

// DefaultUserAgent is used when a Builder is constructed with an empty
// UserAgent.
const DefaultUserAgent = "as2-lib/1.0"

// Builder assembles the header map sent with an outbound AS2 POST. It holds
// no per-message state and is safe to share across concurrently processed
// messages.
type Builder struct {
	// UserAgent overrides the default User-Agent header. Empty uses
	// DefaultUserAgent.
	UserAgent string
}

// Build returns the full header map for msg: a clone of msg.Headers with the
// mandatory AS2 headers set, plus the MDN-related headers the partnership
// calls for. It does not mutate msg.
//
// Calling Build twice on the same Message yields the same map apart from
// Date, since every mandatory header is an overwrite rather than a
// set-if-absent. Date carries the time of each call (to the second), so
// two calls in different seconds differ in that header.
func (b *Builder) Build(msg *message.Message) (map[string]string, error) {
	p := msg.Partnership
	h := cloneHeaders(msg.Headers)

	userAgent := b.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	h["Connection"] = "close"
	h["User-Agent"] = userAgent
	h["Mime-Version"] = "1.0"
	h["AS2-Version"] = "1.1"
	h["Date"] = time.Now().UTC().Format(time.RFC1123)
	h["Message-ID"] = msg.MessageID
	h["Content-Type"] = msg.ContentType
	h["Recipient-Address"] = p.URL
	h["AS2-From"] = quoteIfNeeded(p.SenderAS2ID, p.QuoteHeaderValues)
	h["AS2-To"] = quoteIfNeeded(p.ReceiverAS2ID, p.QuoteHeaderValues)
	h["Subject"] = msg.Subject
	h["From"] = msg.SenderEmail
	h["Content-Transfer-Encoding"] = cte(p)

	if p.DispositionNotificationTo != "" {
		h["Disposition-Notification-To"] = p.DispositionNotificationTo
	}
	if p.MDNMode != message.MDNNone {
		h["Disposition-Notification-Options"] = dispositionOptions(p)
	}
	if p.MDNMode == message.MDNAsync {
		if p.ReceiptDeliveryURL == "" {
			return nil, fmt.Errorf("headers: asynchronous MDN requires a receipt-delivery URL")
		}
		h["Receipt-Delivery-Option"] = p.ReceiptDeliveryURL
	}
	if disposition := msg.Headers["Content-Disposition"]; disposition != "" {
		h["Content-Disposition"] = disposition
	}

	return h, nil
}

func cloneHeaders(src map[string]string) map[string]string {
	out := make(map[string]string, len(src)+12)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cte(p *message.Partnership) string {
	if p.ContentTransferEncoding != "" {
		return p.ContentTransferEncoding
	}
	return "binary"
}

// dispositionOptions renders the Disposition-Notification-Options value per
// RFC 4130 §7.5: "signed-receipt-protocol=optional,pkcs7-signature;
// signed-receipt-micalg=optional,<alg>". p.MDNOptions, if set, is used
// verbatim; otherwise a value naming the partnership's signing algorithm (or
// the MIC default) is synthesized.
func dispositionOptions(p *message.Partnership) string {
	if p.MDNOptions != "" {
		return p.MDNOptions
	}
	alg := p.SignAlgorithm
	if alg == "" {
		alg = "sha256"
	}
	return fmt.Sprintf(
		"signed-receipt-protocol=optional,pkcs7-signature; signed-receipt-micalg=optional,%s",
		strings.ToLower(alg),
	)
}

// quoteIfNeeded double-quotes value when quote is set, or when the value
// contains characters (comma, space) that an unquoted AS2 header identifier
// should not carry unescaped.
func quoteIfNeeded(value string, quote bool) string {
	if value == "" {
		return value
	}
	if !quote && !strings.ContainsAny(value, ", ") {
		return value
	}
	if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return value
	}
	return `"` + value + `"`
}
