package mime

import (
	"bytes"
	"fmt"
	gomime "mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

// Part is a MIME body part: its own headers plus raw content.
type Part struct {
	Headers textproto.MIMEHeader
	Content []byte
}

// ContentType returns the part's Content-Type header value.
func (p *Part) ContentType() string {
	return p.Headers.Get("Content-Type")
}

// NewBoundary generates a MIME multipart boundary string unlikely to
// collide with message content.
func NewBoundary() string {
	return "----=_AS2_" + uuid.NewString()
}

// SignedParams describes the multipart/signed wrapper per RFC 1847.
type SignedParams struct {
	Boundary    string
	MicAlg      string // e.g. "sha-256" or "sha256" depending on naming flag
	SignatureCT string // usually "application/pkcs7-signature"
}

// BuildSigned assembles a multipart/signed body from a content part and a
// detached signature, per RFC 1847 §2.1: the content part exactly as
// signed, then the signature part, both separated by the given boundary.
// It returns the full Content-Type header value and the serialized body.
func BuildSigned(contentPart []byte, contentPartHeaders map[string]string, signature []byte, params SignedParams) (contentType string, body []byte, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(params.Boundary); err != nil {
		return "", nil, fmt.Errorf("mime: set boundary: %w", err)
	}

	// First part: the content bytes as given, with its own MIME headers
	// reproduced so a receiver can re-derive the signed bytes by
	// canonicalizing these headers and content (see Canonicalize).
	h1 := textproto.MIMEHeader{}
	for k, v := range contentPartHeaders {
		h1.Set(k, v)
	}
	p1, err := w.CreatePart(h1)
	if err != nil {
		return "", nil, fmt.Errorf("mime: create content part: %w", err)
	}
	if _, err := p1.Write(contentPart); err != nil {
		return "", nil, fmt.Errorf("mime: write content part: %w", err)
	}

	h2 := textproto.MIMEHeader{}
	h2.Set("Content-Type", params.SignatureCT+"; name=\"smime.p7s\"")
	h2.Set("Content-Transfer-Encoding", "base64")
	h2.Set("Content-Disposition", "attachment; filename=\"smime.p7s\"")
	p2, err := w.CreatePart(h2)
	if err != nil {
		return "", nil, fmt.Errorf("mime: create signature part: %w", err)
	}
	if _, err := p2.Write(base64Wrap(signature)); err != nil {
		return "", nil, fmt.Errorf("mime: write signature part: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("mime: close multipart writer: %w", err)
	}

	ct := gomime.FormatMediaType("multipart/signed", map[string]string{
		"boundary": params.Boundary,
		"protocol": params.SignatureCT,
		"micalg":   params.MicAlg,
	})
	return ct, buf.Bytes(), nil
}

// ParseSigned splits a multipart/signed body into its content part and
// signature part. contentType must be the part's own Content-Type header
// (carrying the boundary parameter).
func ParseSigned(contentType string, body []byte) (content *Part, signature []byte, err error) {
	mediaType, params, err := gomime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil, fmt.Errorf("mime: parse content type: %w", err)
	}
	if !strings.EqualFold(mediaType, "multipart/signed") {
		return nil, nil, fmt.Errorf("mime: not multipart/signed: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, nil, fmt.Errorf("mime: multipart/signed missing boundary")
	}

	r := multipart.NewReader(bytes.NewReader(body), boundary)
	var parts []*Part
	for {
		part, perr := r.NextPart()
		if perr != nil {
			break
		}
		data := make([]byte, 0, 4096)
		buf := make([]byte, 4096)
		for {
			n, rerr := part.Read(buf)
			if n > 0 {
				data = append(data, buf[:n]...)
			}
			if rerr != nil {
				break
			}
		}
		parts = append(parts, &Part{Headers: part.Header, Content: data})
	}
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("mime: expected 2 parts in multipart/signed, got %d", len(parts))
	}

	sigBytes := parts[1].Content
	if cte := parts[1].Headers.Get("Content-Transfer-Encoding"); strings.EqualFold(cte, "base64") {
		decoded, derr := decodeBase64(sigBytes)
		if derr != nil {
			return nil, nil, fmt.Errorf("mime: decode signature part: %w", derr)
		}
		sigBytes = decoded
	}
	return parts[0], sigBytes, nil
}

func base64Wrap(data []byte) []byte {
	const lineLen = 76
	encoded := encodeBase64(data)
	var out bytes.Buffer
	for i := 0; i < len(encoded); i += lineLen {
		end := i + lineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		out.WriteString(encoded[i:end])
		out.WriteString("\r\n")
	}
	return out.Bytes()
}
