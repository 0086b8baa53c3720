package ws

import "time"

// ConnInfo carries identity and telemetry context for one relay
// connection. UserID is learned from the join handshake.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
