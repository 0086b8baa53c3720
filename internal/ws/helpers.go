package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnID labels one relay connection for lifecycle events. Random,
// never reused; "unknown" only if the entropy source fails.
func newConnID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return "sess-" + hex.EncodeToString(buf)
}
