// Package metadata captures client network and device details for the
// audit trail. Ledger entries record where a mutation came from, so this
// middleware must run before any authenticated route.
package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"nightwatch/pkg/requestcontext"
)

// ClientMetadata extracts the client IP and a condensed device summary from
// the request and stores them in the context for ledger attribution.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIPFromRequest(r)
		device := DeviceSummary(r.Header.Get("User-Agent"))
		ctx := requestcontext.WithClientMetadata(r.Context(), ip, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceSummary condenses a raw User-Agent header into a short audit-friendly
// label such as "Firefox on Linux". Raw UA strings are too volatile to store
// verbatim and too noisy to read in audit exports.
func DeviceSummary(rawUA string) string {
	if rawUA == "" {
		return "unknown"
	}
	ua := useragent.New(rawUA)
	name, _ := ua.Browser()
	osInfo := ua.OSInfo()

	switch {
	case ua.Bot():
		if name != "" {
			return name + " (bot)"
		}
		return "bot"
	case name != "" && osInfo.Name != "":
		return name + " on " + osInfo.Name
	case osInfo.Name != "":
		return osInfo.Name
	default:
		// Not a browser; likely a CLI client or SDK. Keep the product token.
		if idx := strings.IndexAny(rawUA, " ("); idx != -1 {
			return rawUA[:idx]
		}
		return rawUA
	}
}

// ClientIPFromRequest extracts the real client IP from the request, handling
// proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...);
	// the first one is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// X-Real-IP is set by nginx and similar proxies.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" for IPv4 and "[::1]:port" for IPv6.
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}

	return "unknown"
}
