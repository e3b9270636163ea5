package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// LoopbackAddress is returned when a request carries no usable address.
const LoopbackAddress = "127.0.0.1"

// SourceAddress picks the caller's address from proxy headers in order of
// trust: CF-Connecting-IP, X-Real-IP, the first X-Forwarded-For hop, then
// the transport address.
func SourceAddress(h http.Header, remoteAddr string) string {
	if v := strings.TrimSpace(h.Get("CF-Connecting-IP")); v != "" {
		return v
	}
	if v := strings.TrimSpace(h.Get("X-Real-IP")); v != "" {
		return v
	}
	if raw := h.Get("X-Forwarded-For"); raw != "" {
		first, _, _ := strings.Cut(raw, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return LoopbackAddress
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		if host == "" {
			return LoopbackAddress
		}
		return host
	}
	return remoteAddr
}
