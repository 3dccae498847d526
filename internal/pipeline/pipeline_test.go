package pipeline

import (
	"bufio"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shucki/as2-lib/pkg/message"
	mimepkg "github.com/Shucki/as2-lib/pkg/mime"
	"github.com/Shucki/as2-lib/pkg/security"
)

type testSigner struct {
	crypto.Signer
	cert *x509.Certificate
}

func (s *testSigner) Certificate() *x509.Certificate { return s.cert }

func generateCert(t *testing.T, cn string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

// TestPipelineOrderCompressSignEncrypt exercises testable property 2: the
// transmitted body, when decrypted then signature-verified then
// decompressed, yields the original bytes, for a partnership with all
// three stages enabled and compress-before-sign set (scenario S4).
func TestPipelineOrderCompressSignEncrypt(t *testing.T) {
	senderKey, senderCert := generateCert(t, "sender")
	receiverKey, receiverCert := generateCert(t, "receiver")

	original := []byte("EDI payload needing compress, sign, and encrypt, repeated for compressibility: " +
		"EDI payload needing compress, sign, and encrypt")
	source := message.NewBodyPart("application/edi-x12", original)

	partner := &message.Partnership{
		SignAlgorithm:      "sha256",
		EncryptAlgorithm:   "aes256_cbc",
		CompressionType:    "zlib",
		CompressBeforeSign: true,
	}

	p := New(security.NewDefaultProvider())
	signer := &testSigner{Signer: senderKey, cert: senderCert}

	var micInput []byte
	result, err := p.Secure(source, "binary", partner, signer, receiverCert, func(b []byte) {
		micInput = b
	})
	require.NoError(t, err)
	assert.True(t, result.Compressed)
	assert.True(t, result.Signed)
	assert.True(t, result.Encrypted)
	assert.NotEmpty(t, micInput, "MIC callback must fire when signing is configured")

	// Decrypt with the receiver's own key: the envelope was addressed to
	// receiverCert, so this is the only key that can open it.
	decrypted, err := security.Decrypt(result.Body.Content, receiverCert, receiverKey)
	require.NoError(t, err)

	// The decrypted bytes are Canonicalize's rendering of the signed
	// multipart/signed part: a Content-Type header line, a blank line,
	// then the multipart body. Split them back apart to recover the
	// Content-Type (with its boundary parameter) ParseSigned needs.
	contentType, multipartBody := splitCanonical(t, decrypted)
	content, signature, err := mimepkg.ParseSigned(contentType, multipartBody)
	require.NoError(t, err)

	// What was signed is the canonical rendering of the content part's own
	// headers plus its body, not the bare body — reconstruct it the same
	// way the signer did before verifying.
	signedBytes := mimepkg.Canonicalize(
		content.Headers.Get("Content-Type"),
		content.Headers.Get("Content-Transfer-Encoding"),
		nil,
		content.Content,
	)
	verifiedBy, err := security.Verify(signedBytes, signature, senderCert)
	require.NoError(t, err)
	assert.Equal(t, senderCert.Raw, verifiedBy.Raw)

	decompressed, err := security.DefaultProvider{}.Decompress(content.Content)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

// splitCanonical reverses pkg/mime.Canonicalize: it reads the leading MIME
// headers (only Content-Type matters here) and returns them alongside the
// remaining body bytes.
func splitCanonical(t *testing.T, data []byte) (contentType string, body []byte) {
	t.Helper()
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	header, err := r.ReadMIMEHeader()
	require.NoError(t, err)
	rest, err := io.ReadAll(r.R)
	require.NoError(t, err)
	return header.Get("Content-Type"), rest
}

// TestPipelineSignOnlyMICInput verifies the MIC callback fires with the
// canonical (header-inclusive) bytes when only signing is configured —
// the "source body" case for MIC computation does not apply here since
// signing IS performed.
func TestPipelineSignOnlyMICInput(t *testing.T) {
	senderKey, senderCert := generateCert(t, "sender")
	source := message.NewBodyPart("application/edi-x12", []byte("hello partner"))
	partner := &message.Partnership{SignAlgorithm: "sha256"}

	p := New(security.NewDefaultProvider())
	signer := &testSigner{Signer: senderKey, cert: senderCert}

	var micInput []byte
	result, err := p.Secure(source, "binary", partner, signer, nil, func(b []byte) { micInput = b })
	require.NoError(t, err)
	assert.True(t, result.Signed)
	assert.False(t, result.Compressed)
	assert.False(t, result.Encrypted)
	assert.Contains(t, string(micInput), "hello partner")
	assert.Contains(t, string(micInput), "Content-Type: application/edi-x12")
}

// TestPipelineCompressBeforeSignFiresMICCallbackWithoutSigning exercises
// the compress-before-sign stage on its own: the MIC callback must fire
// with the compressed bytes even when no signing is configured, since
// those are the bytes actually transmitted.
func TestPipelineCompressBeforeSignFiresMICCallbackWithoutSigning(t *testing.T) {
	original := []byte("EDI payload compressed but never signed, repeated for compressibility: " +
		"EDI payload compressed but never signed")
	source := message.NewBodyPart("application/edi-x12", original)
	partner := &message.Partnership{
		CompressionType:    "zlib",
		CompressBeforeSign: true,
	}

	provider := security.NewDefaultProvider()
	p := New(provider)

	var micInput []byte
	result, err := p.Secure(source, "binary", partner, nil, nil, func(b []byte) {
		micInput = b
	})
	require.NoError(t, err)
	assert.True(t, result.Compressed)
	assert.False(t, result.Signed)
	require.NotEmpty(t, micInput, "MIC callback must fire for compress-before-sign even without signing")

	wantCanonical := mimepkg.Canonicalize(result.Body.ContentType, "binary", nil, result.Body.Content)
	assert.Equal(t, wantCanonical, micInput)

	decompressed, err := provider.Decompress(result.Body.Content)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

// TestPipelineCompressBeforeSignAndSignFiresMICCallbackOnce verifies the
// callback is not invoked twice when both compress-before-sign and signing
// are configured — it fires once, at the compression step, with the same
// bytes signing then seals.
func TestPipelineCompressBeforeSignAndSignFiresMICCallbackOnce(t *testing.T) {
	senderKey, senderCert := generateCert(t, "sender")
	original := []byte("EDI payload compressed then signed, repeated for compressibility: " +
		"EDI payload compressed then signed")
	source := message.NewBodyPart("application/edi-x12", original)
	partner := &message.Partnership{
		SignAlgorithm:      "sha256",
		CompressionType:    "zlib",
		CompressBeforeSign: true,
	}

	p := New(security.NewDefaultProvider())
	signer := &testSigner{Signer: senderKey, cert: senderCert}

	var calls int
	var micInput []byte
	result, err := p.Secure(source, "binary", partner, signer, nil, func(b []byte) {
		calls++
		micInput = b
	})
	require.NoError(t, err)
	assert.True(t, result.Compressed)
	assert.True(t, result.Signed)
	assert.Equal(t, 1, calls, "MIC callback must fire exactly once")
	assert.NotEmpty(t, micInput)
}

func TestPipelineNoOpWhenNothingConfigured(t *testing.T) {
	source := message.NewBodyPart("application/edi-x12", []byte("plain"))
	partner := &message.Partnership{}
	p := New(security.NewDefaultProvider())

	result, err := p.Secure(source, "binary", partner, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Compressed || result.Signed || result.Encrypted)
	assert.Equal(t, source, result.Body)
}

func TestPipelineMissingSignerIsConfigError(t *testing.T) {
	source := message.NewBodyPart("application/edi-x12", []byte("plain"))
	partner := &message.Partnership{SignAlgorithm: "sha256"}
	p := New(security.NewDefaultProvider())

	_, err := p.Secure(source, "binary", partner, nil, nil, nil)
	assert.Error(t, err)
}

func TestPipelineMissingReceiverCertIsConfigError(t *testing.T) {
	source := message.NewBodyPart("application/edi-x12", []byte("plain"))
	partner := &message.Partnership{EncryptAlgorithm: "aes256_cbc"}
	p := New(security.NewDefaultProvider())

	_, err := p.Secure(source, "binary", partner, nil, nil, nil)
	assert.Error(t, err)
}
