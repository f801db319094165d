package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/qualisys/qauth"
)

// DeviceIDHeader carries a client-chosen device identifier.
const DeviceIDHeader = "X-Device-ID"

// ClientInfo stores the client IP and device id on the request context so
// Login and audit events pick them up. X-Forwarded-For is honored only when
// trustProxy is set.
func ClientInfo(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := qauth.WithClientIP(r.Context(), ClientIP(r, trustProxy))
			if id := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); id != "" && len(id) <= 64 {
				ctx = qauth.WithDeviceID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the request's client address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
