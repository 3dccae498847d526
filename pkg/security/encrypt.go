package security

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"sync"

	"go.mozilla.org/pkcs7"
)

// encryptMu serializes Encrypt's use of pkcs7's package-level
// ContentEncryptionAlgorithm setting.
var encryptMu sync.Mutex

// Decryptor is the private-key operation needed to open a CMS
// EnvelopedData envelope, i.e. crypto.Decrypter (an *rsa.PrivateKey
// satisfies it). keystore.Signer does not expose this operation.
type Decryptor interface {
	crypto.Decrypter
}

// Encrypt envelopes content as CMS EnvelopedData to receiverCert, using
// algorithm to select the content-encryption cipher (see
// encryptionAlgorithm). The returned bytes are the DER-encoded
// ContentInfo, the body of an
// application/pkcs7-mime; smime-type=enveloped-data part.
func Encrypt(content []byte, receiverCert *x509.Certificate, algorithm string) ([]byte, error) {
	alg, err := encryptionAlgorithm(algorithm)
	if err != nil {
		return nil, fmt.Errorf("security: encrypt: %w", err)
	}
	encryptMu.Lock()
	defer encryptMu.Unlock()
	prevAlg := pkcs7.ContentEncryptionAlgorithm
	pkcs7.ContentEncryptionAlgorithm = alg
	defer func() { pkcs7.ContentEncryptionAlgorithm = prevAlg }()

	enveloped, err := pkcs7.Encrypt(content, []*x509.Certificate{receiverCert})
	if err != nil {
		return nil, fmt.Errorf("security: envelope: %w", err)
	}
	return enveloped, nil
}

// Decrypt opens a CMS EnvelopedData envelope produced by Encrypt, using
// the given certificate (to locate the matching RecipientInfo) and the
// private-key operation to unwrap the content-encryption key.
func Decrypt(enveloped []byte, cert *x509.Certificate, key Decryptor) ([]byte, error) {
	p7, err := pkcs7.Parse(enveloped)
	if err != nil {
		return nil, fmt.Errorf("security: parse envelope: %w", err)
	}
	plain, err := p7.Decrypt(cert, key)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plain, nil
}
