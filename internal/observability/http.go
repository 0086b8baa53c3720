package observability

import (
	"net"
	"net/http"
	"strings"
)

// Request metadata helpers for websocket handshakes, where gin
// middleware context is not available after the upgrade.

func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}

func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

// IPFromRequest resolves the client address behind the CRM's proxies:
// first X-Forwarded-For hop, then X-Real-Ip, then the socket peer.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
