package compression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog, repeated: " +
		"the quick brown fox jumps over the lazy dog")

	compressed, err := Compress(original)
	require.NoError(t, err)
	assert.NotEmpty(t, compressed)

	decompressed, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressEmpty(t *testing.T) {
	compressed, err := Compress(nil)
	require.NoError(t, err)
	decompressed, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Empty(t, decompressed)
}

func TestDecompressRejectsUnknownContentType(t *testing.T) {
	_, err := Decompress([]byte("not valid asn.1"))
	assert.Error(t, err)
}
