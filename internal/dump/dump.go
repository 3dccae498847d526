// Package dump implements the optional tee of outgoing AS2 requests and
// their responses to disk, one file per message, for offline diagnosis of
// interop failures.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dumper tees a message's outgoing request and incoming response headers
// and body to durable storage. A nil Dumper is always valid to use (the
// caller checks for nil before invoking it) — there is no no-op
// implementation needed.
type Dumper interface {
	DumpOutgoing(messageID string, headers map[string]string, body []byte) error
	DumpIncoming(messageID string, headers map[string]string, body []byte) error
}

// FileDumper writes one file per message per direction under Dir, named
// "<message-id>.request" and "<message-id>.response". The message-id is
// sanitized the same way internal/pending renders filesystem-safe names.
type FileDumper struct {
	Dir string
}

// NewFileDumper returns a FileDumper rooted at dir, creating it if absent.
func NewFileDumper(dir string) (*FileDumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dump: creating %s: %w", dir, err)
	}
	return &FileDumper{Dir: dir}, nil
}

func (d *FileDumper) DumpOutgoing(messageID string, headers map[string]string, body []byte) error {
	return d.write(messageID, "request", headers, body)
}

func (d *FileDumper) DumpIncoming(messageID string, headers map[string]string, body []byte) error {
	return d.write(messageID, "response", headers, body)
}

func (d *FileDumper) write(messageID, suffix string, headers map[string]string, body []byte) error {
	path := filepath.Join(d.Dir, safeFilename(messageID)+"."+suffix)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("dump: creating %s: %w", tmp, err)
	}
	defer f.Close()

	for _, name := range sortedKeys(headers) {
		if _, err := fmt.Fprintf(f, "%s: %s\r\n", name, headers[name]); err != nil {
			return fmt.Errorf("dump: writing headers to %s: %w", tmp, err)
		}
	}
	if _, err := f.Write([]byte("\r\n")); err != nil {
		return fmt.Errorf("dump: writing header/body separator to %s: %w", tmp, err)
	}
	if _, err := f.Write(body); err != nil {
		return fmt.Errorf("dump: writing body to %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dump: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("dump: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// safeFilename strips characters that are unsafe in a filename on common
// filesystems, mirroring internal/pending's rendering so dump files and
// pending records can be cross-referenced by eye.
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
