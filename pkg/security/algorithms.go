package security

import (
	"crypto"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// DefaultMICAlgorithm is substituted whenever a partnership names no
// signing algorithm, or an algorithm this provider does not recognize,
// for MIC purposes. This package is pure and does no logging;
// MICAlgorithmName's unknown result lets a caller report the substitution.
// internal/pipeline rejects an unrecognized signing algorithm with a
// configuration error before any MIC is computed.
const DefaultMICAlgorithm = "sha256"

// micNames maps a canonical algorithm key to its RFC 3851 and RFC 5751
// wire names. RFC 3851 uses the bare hash name ("sha256"); RFC 5751 uses
// the hyphenated IANA name ("sha-256"). Partnership.UseRFC3851MICNames
// selects between them.
var micNames = map[string]struct{ rfc3851, rfc5751 string }{
	"sha1":   {"sha1", "sha-1"},
	"sha256": {"sha256", "sha-256"},
	"sha384": {"sha384", "sha-384"},
	"sha512": {"sha512", "sha-512"},
}

var hashByAlgorithm = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

// MICAlgorithmName returns the AS2 wire-form name for algorithm, using
// RFC 3851 naming if useRFC3851 is set, else RFC 5751 naming. An unknown
// algorithm yields the same form for [DefaultMICAlgorithm] and reports
// unknown=true so the caller can log a substitution warning.
func MICAlgorithmName(algorithm string, useRFC3851 bool) (name string, unknown bool) {
	names, ok := micNames[normalizeAlgorithm(algorithm)]
	if !ok {
		names = micNames[DefaultMICAlgorithm]
		unknown = algorithm != ""
	}
	if useRFC3851 {
		return names.rfc3851, unknown
	}
	return names.rfc5751, unknown
}

// ValidDigestAlgorithm reports whether algorithm names a supported MIC /
// signature digest, in either naming convention.
func ValidDigestAlgorithm(algorithm string) bool {
	_, ok := hashByAlgorithm[normalizeAlgorithm(algorithm)]
	return ok
}

// ValidEncryptionAlgorithm reports whether algorithm names a supported
// content-encryption cipher for Encrypt. An empty string is valid (it
// selects the default).
func ValidEncryptionAlgorithm(algorithm string) bool {
	_, err := encryptionAlgorithm(algorithm)
	return err == nil
}

// hashFor resolves a partnership-style algorithm identifier (either naming
// convention, case-insensitive) to a crypto.Hash.
func hashFor(algorithm string) (crypto.Hash, error) {
	h, ok := hashByAlgorithm[normalizeAlgorithm(algorithm)]
	if !ok {
		return 0, fmt.Errorf("security: unknown digest algorithm %q", algorithm)
	}
	return h, nil
}

// normalizeAlgorithm accepts "sha256", "sha-256" or "aes256_cbc" style
// input and returns the bare form used as the map key internally: hyphens
// and underscores are dropped and the result is lowercased.
func normalizeAlgorithm(algorithm string) string {
	out := make([]byte, 0, len(algorithm))
	for i := 0; i < len(algorithm); i++ {
		if algorithm[i] == '-' || algorithm[i] == '_' {
			continue
		}
		c := algorithm[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// encryptionAlgorithm identifies the symmetric cipher used for
// EnvelopedData content encryption, as named by a Partnership's
// EncryptAlgorithm. "3des" / "des3" / "tripledes" map to pkcs7's
// EncryptionAlgorithmDESCBC; "aes128_cbc" and "aes256_cbc" map to AES-128-CBC
// and AES-256-CBC, and an empty name selects AES-256-CBC. AES-192 is not
// accepted.
func encryptionAlgorithm(algorithm string) (int, error) {
	switch normalizeAlgorithm(algorithm) {
	case "3des", "des3", "descbc3", "tripledes":
		return pkcs7.EncryptionAlgorithmDESCBC, nil
	case "aes128cbc":
		return pkcs7.EncryptionAlgorithmAES128CBC, nil
	case "aes256cbc", "":
		return pkcs7.EncryptionAlgorithmAES256CBC, nil
	default:
		return 0, fmt.Errorf("security: unknown encryption algorithm %q", algorithm)
	}
}
