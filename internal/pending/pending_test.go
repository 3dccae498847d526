package pending

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	record := Record{MIC: "EjqMK5E7ZsnFuAnd3V6Q7ckD7YQ=, sha256", PendingPath: "/var/as2/pending/outgoing-123.dat"}
	require.NoError(t, s.Put("20260803-120000-000-host@sender", record))

	got, err := s.Get("20260803-120000-000-host@sender")
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("never-put@sender")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesRecord(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put("msg@sender", Record{MIC: "abc=, sha256", PendingPath: "/tmp/x"}))
	require.NoError(t, s.Delete("msg@sender"))

	_, err = s.Get("msg@sender")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Delete("never-existed@sender"))
}

func TestPutUsesFilesystemSafeFilename(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put("20260803-120000-000-host@sender/partner", Record{MIC: "x", PendingPath: "y"}))
	assert.FileExists(t, filepath.Join(dir, "20260803-120000-000-host_sender_partner.pending"))
}
