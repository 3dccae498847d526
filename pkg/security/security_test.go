package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCert(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "as2-test-partner"},
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

// testSigner adapts an *rsa.PrivateKey (already a crypto.Signer) plus its
// certificate to this package's Signer interface.
type testSigner struct {
	crypto.Signer
	cert *x509.Certificate
}

func (s *testSigner) Certificate() *x509.Certificate { return s.cert }

// TestMICAcrossAlgorithms exercises invariant 1 from the spec: MIC
// computation for each supported digest algorithm, in both naming
// conventions.
func TestMICAcrossAlgorithms(t *testing.T) {
	content := []byte("Content-Type: application/edi-x12\r\nContent-Transfer-Encoding: binary\r\n\r\nhello world")

	for _, algo := range []string{"sha1", "sha256", "sha384", "sha512"} {
		t.Run(algo, func(t *testing.T) {
			mic, err := ComputeMIC(content, algo, false)
			require.NoError(t, err)
			assert.NotEmpty(t, mic.Digest)

			again, err := ComputeMIC(content, algo, false)
			require.NoError(t, err)
			assert.True(t, mic.Equal(again), "MIC must be deterministic over identical input")

			rfc3851, err := ComputeMIC(content, algo, true)
			require.NoError(t, err)
			assert.Equal(t, mic.Digest, rfc3851.Digest, "digest is independent of naming convention")
			assert.NotEqual(t, mic.Algorithm, rfc3851.Algorithm, "naming convention changes the identifier")
		})
	}
}

func TestMICUnknownAlgorithmFallsBackToDefault(t *testing.T) {
	mic, err := ComputeMIC([]byte("x"), "md5", false)
	require.NoError(t, err)
	name, unknown := MICAlgorithmName("md5", false)
	assert.True(t, unknown)
	assert.Equal(t, name, mic.Algorithm)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog, repeated for compression: " +
		"the quick brown fox jumps over the lazy dog")
	compressed, err := DefaultProvider{}.Compress(original)
	require.NoError(t, err)
	assert.NotEqual(t, original, compressed)

	restored, err := DefaultProvider{}.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, cert := generateTestCert(t)
	plaintext := []byte("super secret EDI payload")

	enveloped, err := Encrypt(plaintext, cert, "aes256_cbc")
	require.NoError(t, err)
	require.NotEmpty(t, enveloped)

	decrypted, err := Decrypt(enveloped, cert, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, cert := generateTestCert(t)
	signer := &testSigner{Signer: key, cert: cert}
	content := []byte("Content-Type: application/edi-x12\r\n\r\nhello partner")

	signature, err := Sign(content, signer, "sha256", true)
	require.NoError(t, err)
	require.NotEmpty(t, signature)

	verifiedBy, err := Verify(content, signature, nil)
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, verifiedBy.Raw)
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	key, cert := generateTestCert(t)
	signer := &testSigner{Signer: key, cert: cert}
	content := []byte("original content")

	signature, err := Sign(content, signer, "sha256", true)
	require.NoError(t, err)

	_, err = Verify([]byte("tampered content"), signature, nil)
	assert.Error(t, err)
}

// TestSignExcludesCertificateWhenIncludeCertIsFalse covers
// Partnership.IncludeCertificateInSignedContent=false: the certificate
// must actually be missing from the signature bytes, not merely ignored
// at the call site, so Verify needs an externally supplied certificate to
// succeed.
func TestSignExcludesCertificateWhenIncludeCertIsFalse(t *testing.T) {
	key, cert := generateTestCert(t)
	signer := &testSigner{Signer: key, cert: cert}
	content := []byte("Content-Type: application/edi-x12\r\n\r\nhello partner")

	signature, err := Sign(content, signer, "sha256", false)
	require.NoError(t, err)
	require.NotEmpty(t, signature)

	_, err = Verify(content, signature, nil)
	assert.Error(t, err, "verification without a known signer must fail once the certificate is stripped")

	verifiedBy, err := Verify(content, signature, cert)
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, verifiedBy.Raw)
}

func TestEncryptUnknownAlgorithm(t *testing.T) {
	_, cert := generateTestCert(t)
	_, err := Encrypt([]byte("x"), cert, "rot13")
	assert.Error(t, err)
}
