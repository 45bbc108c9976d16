package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the originating address behind proxies. Precedence:
// first X-Forwarded-For entry, then X-Real-IP, then the connection's
// remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func clientIPKey(r *http.Request, prefix string) string {
	return prefix + ":" + ClientIP(r)
}
