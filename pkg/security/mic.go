package security

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/Shucki/as2-lib/pkg/message"
)

// ComputeMIC hashes canonical with the algorithm named by partnershipAlgorithm
// (falling back to [DefaultMICAlgorithm] if empty or unrecognized) and
// returns the digest paired with its AS2 wire-form algorithm identifier.
// canonical is expected to already be the exact bytes the spec says the MIC
// covers — see pkg/mime.Canonicalize and internal/pipeline for how those
// bytes are assembled.
func ComputeMIC(canonical []byte, partnershipAlgorithm string, useRFC3851Names bool) (message.MIC, error) {
	algo := partnershipAlgorithm
	if _, ok := micNames[normalizeAlgorithm(algo)]; !ok {
		algo = DefaultMICAlgorithm
	}
	h, err := newHash(algo)
	if err != nil {
		return message.MIC{}, fmt.Errorf("security: compute MIC: %w", err)
	}
	h.Write(canonical)
	name, _ := MICAlgorithmName(algo, useRFC3851Names)
	return message.MIC{Digest: h.Sum(nil), Algorithm: name}, nil
}

func newHash(algorithm string) (hash.Hash, error) {
	switch normalizeAlgorithm(algorithm) {
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unknown MIC algorithm %q", algorithm)
	}
}
