package middleware

import (
	"net"
	"net/http"
	"strings"
)

// RequestInfo is a middleware that captures the caller IP address, user agent and
// request URL into the context so that audit entries can carry them.
func RequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := RequestMeta{
			IPAddress: ClientIP(r),
			UserAgent: r.UserAgent(),
			URL:       r.URL.RequestURI(),
		}
		next.ServeHTTP(w, r.WithContext(SetRequestMeta(r.Context(), meta)))
	})
}

// ClientIP extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order and strips
// any port so the value fits an inet column.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.Index(xff, ","); idx != -1 {
			first = xff[:idx]
		}
		if first = strings.TrimSpace(first); first != "" {
			return stripPort(first)
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}

	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// No port present.
		return addr
	}
	return host
}
