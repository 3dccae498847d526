package message

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var messageCounter uint64

var hostFingerprint = func() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}()

// NewMessageID generates a globally unique Message-ID suitable for the
// AS2 Message-ID header. It combines a monotonic counter, a timestamp, and
// a host fingerprint so that IDs stay unique across concurrently sending
// goroutines and across process restarts, per the spec's requirement that
// the generator "produce globally unique IDs across all sender threads".
func NewMessageID() string {
	seq := atomic.AddUint64(&messageCounter, 1)
	return fmt.Sprintf("<%d.%d.%s@%s>", time.Now().UnixNano(), seq, uuid.NewString()[:8], hostFingerprint)
}
