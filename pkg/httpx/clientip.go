package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address from the request. It prefers
// X-Forwarded-For, then X-Real-IP, then RemoteAddr. The forwarded headers
// are trusted as written: the service must sit behind a proxy that sets or
// strips them, otherwise any IP-keyed lockout or rate-limit counter can be
// reset per request with a forged header.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
