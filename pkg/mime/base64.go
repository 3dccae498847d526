package mime

import (
	"encoding/base64"
	"strings"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeBase64 decodes base64 text that may be wrapped across multiple
// lines (as produced by base64Wrap), stripping CR/LF before decoding.
func decodeBase64(data []byte) ([]byte, error) {
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(data))
	return base64.StdEncoding.DecodeString(cleaned)
}
