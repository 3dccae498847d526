// Package message defines the AS2 message data carrier and its partnership
// and MIC value types.
//
// A [Message] is the unit of work that flows from the directory poller
// through the security pipeline, the header builder, the HTTP transport, and
// finally the MDN receiver. It owns a MIME body part that is replaced in
// place as the security pipeline transforms it; everything else about the
// message is additive (headers and attributes are set, never removed).
package message

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
)

// BodyPart is the payload carried by a Message as it moves through the
// security pipeline. Content is the rendered MIME entity: for a plain
// payload this is just the raw bytes; for a signed, compressed, or
// encrypted part it is the full multipart/signed or application/pkcs7-mime
// rendering, headers included where the format requires them inline.
//
// BodyPart is immutable once constructed; pipeline stages produce a new
// BodyPart rather than mutating one in place.
type BodyPart struct {
	// ContentType is the MIME Content-Type of this part, e.g.
	// "application/octet-stream" or
	// `multipart/signed; protocol="application/pkcs7-signature"; micalg=sha-256; boundary="..."`.
	ContentType string
	// Content is the raw bytes of this part (not including any outer
	// transport framing).
	Content []byte
}

// Reader returns a fresh reader over the part's content.
func (b *BodyPart) Reader() io.Reader {
	return &byteReader{data: b.Content}
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// MDNMode selects how a partnership requests a Message Disposition
// Notification.
type MDNMode int

const (
	// MDNNone means no MDN is requested.
	MDNNone MDNMode = iota
	// MDNSync means the MDN is returned on the same HTTP response.
	MDNSync
	// MDNAsync means the MDN is returned later via a callback POST to
	// ReceiptDeliveryURL.
	MDNAsync
)

// Partnership is a read-only snapshot of the policy governing one AS2
// exchange. It is safe to share across concurrently processed messages.
type Partnership struct {
	SenderAS2ID   string
	ReceiverAS2ID string
	URL           string

	SignAlgorithm    string // e.g. "sha256"; empty means no signing
	EncryptAlgorithm string // e.g. "aes256_cbc"; empty means no encryption

	CompressionType    string // e.g. "zlib"; empty means no compression
	CompressBeforeSign bool

	MDNMode                   MDNMode
	ReceiptDeliveryURL        string // required when MDNMode == MDNAsync
	MDNOptions                string
	DispositionNotificationTo string

	ContentTransferEncoding string // default "binary"

	SenderCertAlias   string // resolves to sender's private key + cert
	ReceiverCertAlias string // resolves to receiver's cert

	IncludeCertificateInSignedContent bool
	UseRFC3851MICNames                bool
	QuoteHeaderValues                 bool

	// RetryCount is the number of retransmission attempts after the first,
	// i.e. a value of 2 means up to 3 total HTTP attempts. Zero means no retry.
	RetryCount int
}

// Validate enforces the partnership invariants from the data model: async
// MDN requires a receipt-delivery URL; signing requires a sender cert
// alias; encryption requires a receiver cert alias. Resolving the alias to
// an actual key/cert is the keystore's job, not this check's.
func (p *Partnership) Validate() error {
	if p.MDNMode == MDNAsync && p.ReceiptDeliveryURL == "" {
		return errInvalid("asynchronous MDN mode requires a receipt-delivery URL")
	}
	if p.SignAlgorithm != "" && p.SenderCertAlias == "" {
		return errInvalid("signing algorithm set without a sender certificate alias")
	}
	if p.EncryptAlgorithm != "" && p.ReceiverCertAlias == "" {
		return errInvalid("encryption algorithm set without a receiver certificate alias")
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errInvalid(msg string) error { return validationError(msg) }

// MIC is a message integrity check: a digest paired with the algorithm
// identifier used to produce it. Its AS2 wire form is
// "base64(digest), algorithm-id".
type MIC struct {
	Digest    []byte
	Algorithm string // e.g. "sha-256" (RFC 5751 form) or "sha256" (RFC 3851 form)
}

// Equal reports whether two MICs are byte-identical on digest and
// case-sensitive identical on algorithm identifier, per the spec's MIC
// equality rule.
func (m MIC) Equal(other MIC) bool {
	if m.Algorithm != other.Algorithm {
		return false
	}
	if len(m.Digest) != len(other.Digest) {
		return false
	}
	for i := range m.Digest {
		if m.Digest[i] != other.Digest[i] {
			return false
		}
	}
	return true
}

// String renders a MIC in its AS2 wire form: "base64(digest), algorithm-id",
// the same form carried by a Received-content-MIC MDN header and stashed by
// the sender as a message attribute for later comparison against the
// returned MDN.
func (m MIC) String() string {
	return fmt.Sprintf("%s, %s", base64.StdEncoding.EncodeToString(m.Digest), m.Algorithm)
}

// ParseMICString parses the wire form produced by [MIC.String] or carried in
// a Received-content-MIC header.
func ParseMICString(s string) (MIC, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return MIC{}, fmt.Errorf("message: malformed MIC %q", s)
	}
	digest, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[0]))
	if err != nil {
		return MIC{}, fmt.Errorf("message: decoding MIC digest: %w", err)
	}
	return MIC{Digest: digest, Algorithm: strings.TrimSpace(parts[1])}, nil
}

// Attributes carries the handful of transient, per-message values that do
// not belong in the HTTP header map: destination IP/port observed at send
// time, processing status, and the pending-file path used for async MDN
// reconciliation. A Message is never processed by two goroutines at once,
// but the mutex keeps accidental concurrent reads safe.
type Attributes struct {
	mu sync.Mutex
	m  map[string]string
}

// NewAttributes returns an empty attribute set.
func NewAttributes() *Attributes {
	return &Attributes{m: make(map[string]string)}
}

// Set stores a value.
func (a *Attributes) Set(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[key] = value
}

// Get retrieves a value, returning "" if absent.
func (a *Attributes) Get(key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m[key]
}

// Status attribute keys and values used by the poller and sender to agree
// on outcome routing.
const (
	AttrStatus      = "status"
	AttrPendingFile = "pending-file"
	AttrDestIP      = "dest-ip"
	AttrDestPort    = "dest-port"
	AttrRetryCount  = "retry-count"
	AttrOriginalMIC = "original-mic"
	AttrTerminated  = "terminated"

	StatusSent    = "sent"
	StatusPending = "pending" // async MDN outstanding
	StatusError   = "error"
)

// MDN is the parsed reply from a synchronous or asynchronous disposition
// notification.
type MDN struct {
	Headers     map[string]string
	Body        *BodyPart
	Disposition string
	ReportedMIC *MIC
	Explanation string
}

// Message is the unit of work carried from the poller through the sender.
// Its MIME body part is non-nil from the moment the source file is read
// until the message is discarded.
type Message struct {
	MessageID   string
	Subject     string
	ContentType string
	Body        *BodyPart
	SenderEmail string

	Headers     map[string]string
	Attrs       *Attributes
	Partnership *Partnership
	MDNReceived *MDN
}

// New creates a Message with initialized header and attribute maps.
func New(messageID string, body *BodyPart, p *Partnership) *Message {
	return &Message{
		MessageID:   messageID,
		ContentType: body.ContentType,
		Body:        body,
		Headers:     make(map[string]string),
		Attrs:       NewAttributes(),
		Partnership: p,
	}
}
