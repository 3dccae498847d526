// Package pending implements the filesystem-backed store of outstanding
// asynchronous MDNs: one small text record per message, written atomically,
// keyed by message-id.
package pending

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ErrNotFound is returned by Get when no record exists for a message-id.
var ErrNotFound = errors.New("pending: record not found")

// Record is the content of one pending-MDN entry: the MIC computed when the
// message was sent, and the path of the file holding the outbound message
// body, both needed to reconcile an asynchronous MDN arriving later.
type Record struct {
	MIC         string
	PendingPath string
}

// Store is a directory of pending records, one file per outstanding
// message, named after a filesystem-safe rendering of the message-id.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pending: creating %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// Put writes messageID's record. It writes to a temporary file and renames
// it into place, so a concurrent Get never observes a torn write.
func (s *Store) Put(messageID string, record Record) error {
	path := s.path(messageID)
	tmp := path + ".tmp"

	content := record.MIC + "\n" + record.PendingPath + "\n"
	encoded, err := charmap.ISO8859_1.NewEncoder().String(content)
	if err != nil {
		return fmt.Errorf("pending: encoding record for %s: %w", messageID, err)
	}

	if err := os.WriteFile(tmp, []byte(encoded), 0o644); err != nil {
		return fmt.Errorf("pending: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pending: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Get reads messageID's record, or ErrNotFound if none exists.
func (s *Store) Get(messageID string) (Record, error) {
	raw, err := os.ReadFile(s.path(messageID))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("pending: reading record for %s: %w", messageID, err)
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return Record{}, fmt.Errorf("pending: decoding record for %s: %w", messageID, err)
	}

	lines := strings.SplitN(strings.TrimRight(string(decoded), "\n"), "\n", 2)
	if len(lines) != 2 {
		return Record{}, fmt.Errorf("pending: malformed record for %s", messageID)
	}
	return Record{MIC: lines[0], PendingPath: lines[1]}, nil
}

// Delete removes messageID's record, if any. Deleting a record that does
// not exist is not an error.
func (s *Store) Delete(messageID string) error {
	err := os.Remove(s.path(messageID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("pending: deleting record for %s: %w", messageID, err)
	}
	return nil
}

func (s *Store) path(messageID string) string {
	return filepath.Join(s.Dir, safeFilename(messageID)+".pending")
}

// safeFilename strips characters unsafe in a filename on common
// filesystems.
func safeFilename(messageID string) string {
	var b strings.Builder
	for _, r := range messageID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
