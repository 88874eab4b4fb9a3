package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ParseFormString returns the trimmed query or form value for key, or
// defaultVal when it is blank.
func ParseFormString(r *http.Request, key, defaultVal string) string {
	if val := strings.TrimSpace(r.FormValue(key)); val != "" {
		return val
	}
	return defaultVal
}

// ClientIP returns the originating client address. Behind a proxy the first
// X-Forwarded-For hop wins, then X-Real-IP, then the connection peer.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
