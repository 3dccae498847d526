package security

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"

	"go.mozilla.org/pkcs7"
)

// digestOID maps a normalized algorithm name to the OID pkcs7 expects for
// SignedData.SetDigestAlgorithm.
var digestOID = map[string]asn1.ObjectIdentifier{
	"sha1":   pkcs7.OIDDigestAlgorithmSHA1,
	"sha256": pkcs7.OIDDigestAlgorithmSHA256,
	"sha384": pkcs7.OIDDigestAlgorithmSHA384,
	"sha512": pkcs7.OIDDigestAlgorithmSHA512,
}

// Signer is the private-key operation needed to produce a CMS signature:
// exactly the surface keystore.Signer already exposes, restated here so
// this package does not need to import internal/keystore.
type Signer interface {
	Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error)
	Public() crypto.PublicKey
	Certificate() *x509.Certificate
}

// Sign produces a detached CMS SignedData signature over content, using
// signer's key and certificate. algorithm selects the digest (and
// therefore the MIC algorithm the signature binds to); includeCert
// controls whether the signer's certificate is embedded in the signature
// (Partnership.IncludeCertificateInSignedContent).
//
// The returned bytes are the DER-encoded detached signature, suitable as
// the body of the multipart/signed signature part pkg/mime.BuildSigned
// assembles.
func Sign(content []byte, signer Signer, algorithm string, includeCert bool) ([]byte, error) {
	h, err := hashFor(algorithm)
	if err != nil {
		return nil, fmt.Errorf("security: sign: %w", err)
	}
	cert := signer.Certificate()
	if cert == nil {
		return nil, fmt.Errorf("security: sign: signer has no certificate")
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("security: new signed data: %w", err)
	}
	sd.SetDigestAlgorithm(digestOID[normalizeAlgorithm(algorithm)])

	signerKey := &signerKeyAdapter{signer: signer, hash: h}
	if err := sd.AddSigner(cert, signerKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("security: add signer: %w", err)
	}
	sd.Detach()

	signature, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("security: finish signed data: %w", err)
	}

	// pkcs7.SignedData has no option to leave AddSigner's certificate out;
	// when the partnership asks for a leaner signature
	// (IncludeCertificateInSignedContent=false), cut the optional
	// certificates field out of the finished DER ourselves.
	if !includeCert {
		signature, err = stripCertificates(signature)
		if err != nil {
			return nil, fmt.Errorf("security: stripping certificate: %w", err)
		}
	}
	return signature, nil
}

// cmsContentInfo mirrors the outer CMS ContentInfo wrapper (RFC 5652 §5.1)
// just enough to reach into and reconstruct the encapsulated SignedData
// without depending on pkcs7 internals.
type cmsContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// certificatesFieldTag is the DER tag byte of SignedData's optional
// "certificates [0] IMPLICIT CertificateSet OPTIONAL" field (RFC 5652
// §5.1): context-specific class, constructed, tag number 0.
const certificatesFieldTag = 0xA0

// stripCertificates removes the certificates field from a DER-encoded CMS
// SignedData ContentInfo, leaving every other field (version,
// digestAlgorithms, encapContentInfo, signerInfos) untouched and in order.
func stripCertificates(signature []byte) ([]byte, error) {
	var ci cmsContentInfo
	if _, err := asn1.Unmarshal(signature, &ci); err != nil {
		return nil, fmt.Errorf("unmarshal SignedData ContentInfo: %w", err)
	}

	var sd asn1.RawValue
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("unmarshal SignedData: %w", err)
	}

	fields, err := derElements(sd.Bytes)
	if err != nil {
		return nil, fmt.Errorf("splitting SignedData fields: %w", err)
	}

	var body []byte
	for _, field := range fields {
		if len(field) > 0 && field[0] == certificatesFieldTag {
			continue
		}
		body = append(body, field...)
	}

	newSD, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      body,
	})
	if err != nil {
		return nil, fmt.Errorf("remarshal SignedData: %w", err)
	}

	out, err := asn1.Marshal(cmsContentInfo{
		ContentType: ci.ContentType,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: newSD},
	})
	if err != nil {
		return nil, fmt.Errorf("remarshal SignedData ContentInfo: %w", err)
	}
	return out, nil
}

// derElements splits the concatenated top-level DER TLVs inside a
// SEQUENCE's content bytes back into one []byte (tag+length+value) per
// element, in order.
func derElements(der []byte) ([][]byte, error) {
	var elems [][]byte
	rest := der
	for len(rest) > 0 {
		var raw asn1.RawValue
		next, err := asn1.Unmarshal(rest, &raw)
		if err != nil {
			return nil, err
		}
		elems = append(elems, raw.FullBytes)
		rest = next
	}
	return elems, nil
}

// signerKeyAdapter lets a security.Signer stand in for a crypto.Signer, so
// pkcs7.SignedData.AddSigner can drive it without this package ever
// touching raw key material.
type signerKeyAdapter struct {
	signer Signer
	hash   crypto.Hash
}

func (a *signerKeyAdapter) Public() crypto.PublicKey { return a.signer.Public() }

func (a *signerKeyAdapter) Sign(r io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return a.signer.Sign(r, digest, opts)
}

// Verify checks a detached or attached CMS SignedData signature over
// content, optionally against a known signer certificate (if the
// signature did not embed one). It returns the certificate that actually
// verified the signature.
func Verify(content, signature []byte, knownSigner *x509.Certificate) (*x509.Certificate, error) {
	p7, err := pkcs7.Parse(signature)
	if err != nil {
		return nil, fmt.Errorf("security: parse signature: %w", err)
	}
	if len(content) > 0 {
		p7.Content = content
	}
	if len(p7.Certificates) == 0 && knownSigner != nil {
		p7.Certificates = []*x509.Certificate{knownSigner}
	}
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("security: verify: %w", err)
	}
	if len(p7.Certificates) > 0 {
		return p7.Certificates[0], nil
	}
	return knownSigner, nil
}
