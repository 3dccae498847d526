// Package pipeline implements the AS2 security pipeline: the
// compress/sign/encrypt transformation a MIME body part goes through
// before it is transmitted, in the protocol-mandated order from spec
// §4.1, with a single-use callback fired at the moment the bytes that
// will be signed (the MIC input) are fixed.
package pipeline

import (
	"crypto/x509"
	"fmt"

	"github.com/Shucki/as2-lib/pkg/as2err"
	mimepkg "github.com/Shucki/as2-lib/pkg/mime"
	"github.com/Shucki/as2-lib/pkg/message"
	"github.com/Shucki/as2-lib/pkg/security"
)

const (
	contentTypeOctetStream  = "application/octet-stream"
	signatureContentType    = "application/pkcs7-signature"
	envelopedContentType    = `application/pkcs7-mime; smime-type=enveloped-data; name="smime.p7m"`
)

// MICCallback receives the canonical bytes (headers + content, CRLF
// terminated) that fix the MIC input: either the compress-before-sign
// output, if compression runs ahead of signing, or the bytes about to be
// signed otherwise. It is invoked at most once per Secure call, at
// whichever of those two points comes first; when neither compression nor
// signing is configured it is never invoked.
type MICCallback func(canonical []byte)

// Pipeline applies compression, signing, and encryption to a MIME body
// part per a Partnership's configuration. It holds no per-message state
// and is safe for concurrent use as long as its CryptoProvider is.
type Pipeline struct {
	crypto security.CryptoProvider
}

// New returns a Pipeline backed by crypto.
func New(crypto security.CryptoProvider) *Pipeline {
	return &Pipeline{crypto: crypto}
}

// Result is the outcome of a Secure call: the transformed body part and
// which stages actually ran, so the caller (internal/sender) can apply
// the spec's header side effects without the pipeline reaching into the
// Message itself.
type Result struct {
	Body       *message.BodyPart
	Compressed bool
	Signed     bool
	Encrypted  bool
}

// Secure runs source through compress/sign/encrypt per partner's
// configuration, in the normative order from spec §4.1:
//
//  1. compress-before-sign compression
//  2. signing (multipart/signed)
//  3. compress-after-sign compression
//  4. encryption (enveloped-data)
//
// signer is required iff partner.SignAlgorithm is set; receiverCert is
// required iff partner.EncryptAlgorithm is set. onMICInput, if non-nil,
// is invoked once with the canonical bytes that fix the MIC input — the
// compress-before-sign output if that stage ran, otherwise the bytes
// about to be signed. Callers that don't need the MIC (no MDN requested)
// may pass nil.
func (p *Pipeline) Secure(
	source *message.BodyPart,
	cte string,
	partner *message.Partnership,
	signer security.Signer,
	receiverCert *x509.Certificate,
	onMICInput MICCallback,
) (*Result, error) {
	current := source
	result := &Result{}

	micFired := false
	if partner.CompressionType != "" && partner.CompressBeforeSign {
		compressed, err := p.compress(current)
		if err != nil {
			return nil, err
		}
		current = compressed
		result.Compressed = true
		if onMICInput != nil {
			onMICInput(mimepkg.Canonicalize(current.ContentType, cte, nil, current.Content))
			micFired = true
		}
	}

	if partner.SignAlgorithm != "" {
		if signer == nil {
			return nil, as2err.Config("signing configured without a resolved sender signer", nil)
		}
		if partner.SignAlgorithm != "" && !security.ValidDigestAlgorithm(partner.SignAlgorithm) {
			return nil, as2err.Config(fmt.Sprintf("unsupported signing algorithm %q", partner.SignAlgorithm), nil)
		}
		signCallback := onMICInput
		if micFired {
			signCallback = nil
		}
		signed, err := p.sign(current, cte, partner, signer, signCallback)
		if err != nil {
			return nil, err
		}
		current = signed
		result.Signed = true
	}

	if partner.CompressionType != "" && !partner.CompressBeforeSign {
		compressed, err := p.compress(current)
		if err != nil {
			return nil, err
		}
		current = compressed
		result.Compressed = true
	}

	if partner.EncryptAlgorithm != "" {
		if receiverCert == nil {
			return nil, as2err.Config("encryption configured without a resolved receiver certificate", nil)
		}
		if !security.ValidEncryptionAlgorithm(partner.EncryptAlgorithm) {
			return nil, as2err.Config(fmt.Sprintf("unsupported encryption algorithm %q", partner.EncryptAlgorithm), nil)
		}
		encrypted, err := p.encrypt(current, cte, partner, receiverCert)
		if err != nil {
			return nil, err
		}
		current = encrypted
		result.Encrypted = true
	}

	result.Body = current
	return result, nil
}

func (p *Pipeline) compress(current *message.BodyPart) (*message.BodyPart, error) {
	compressed, err := p.crypto.Compress(current.Content)
	if err != nil {
		return nil, as2err.Crypto("compression failed", err)
	}
	return &message.BodyPart{
		ContentType: `application/pkcs7-mime; smime-type=compressed-data; name="smime.p7z"`,
		Content:     compressed,
	}, nil
}

func (p *Pipeline) sign(current *message.BodyPart, cte string, partner *message.Partnership, signer security.Signer, onMICInput MICCallback) (*message.BodyPart, error) {
	headers := map[string]string{"Content-Type": current.ContentType}
	partCTE := cte
	if partCTE != "" {
		headers["Content-Transfer-Encoding"] = partCTE
	}
	canonical := mimepkg.Canonicalize(current.ContentType, partCTE, nil, current.Content)
	if onMICInput != nil {
		onMICInput(canonical)
	}

	signature, err := p.crypto.Sign(canonical, signer, partner.SignAlgorithm, partner.IncludeCertificateInSignedContent)
	if err != nil {
		return nil, as2err.Crypto("signing failed", err)
	}

	micAlg, _ := security.MICAlgorithmName(partner.SignAlgorithm, partner.UseRFC3851MICNames)
	ct, body, err := mimepkg.BuildSigned(current.Content, headers, signature, mimepkg.SignedParams{
		Boundary:    mimepkg.NewBoundary(),
		MicAlg:      micAlg,
		SignatureCT: signatureContentType,
	})
	if err != nil {
		return nil, as2err.Crypto("assembling multipart/signed failed", err)
	}
	return &message.BodyPart{ContentType: ct, Content: body}, nil
}

func (p *Pipeline) encrypt(current *message.BodyPart, cte string, partner *message.Partnership, receiverCert *x509.Certificate) (*message.BodyPart, error) {
	partCTE := cte
	if isMultipart(current.ContentType) {
		partCTE = ""
	}
	canonical := mimepkg.Canonicalize(current.ContentType, partCTE, nil, current.Content)

	enveloped, err := p.crypto.Encrypt(canonical, receiverCert, partner.EncryptAlgorithm)
	if err != nil {
		return nil, as2err.Crypto("encryption failed", err)
	}
	return &message.BodyPart{ContentType: envelopedContentType, Content: enveloped}, nil
}

func isMultipart(contentType string) bool {
	return len(contentType) >= 10 && contentType[:10] == "multipart/"
}
