// Package realip resolves the real client address behind reverse proxies.
package realip

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey string

const clientAddrKey contextKey = "client_addr"

// Config controls proxy trust for X-Forwarded-For parsing.
type Config struct {
	// TrustProxy enables forwarded-header parsing.
	TrustProxy bool
	// TrustedProxies lists CIDR ranges (or bare IPs) allowed to set
	// forwarding headers.
	TrustedProxies []string
}

// Middleware stores the resolved client IP in the request context. When the
// peer is not a trusted proxy the forwarding headers are ignored entirely.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	trusted := parsePrefixes(cfg.TrustedProxies)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolve(r, cfg.TrustProxy, trusted)
			ctx := context.WithValue(r.Context(), clientAddrKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromRequest returns the client IP resolved by Middleware, falling back to
// the connection's remote address.
func FromRequest(r *http.Request) string {
	if ip, ok := r.Context().Value(clientAddrKey).(string); ok && ip != "" {
		return ip
	}
	return stripPort(r.RemoteAddr)
}

func parsePrefixes(cidrs []string) []netip.Prefix {
	var out []netip.Prefix
	for _, c := range cidrs {
		if p, err := netip.ParsePrefix(c); err == nil {
			out = append(out, p)
			continue
		}
		// Bare address means a single-host range.
		if a, err := netip.ParseAddr(c); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func resolve(r *http.Request, trustProxy bool, trusted []netip.Prefix) string {
	peer := stripPort(r.RemoteAddr)
	if !trustProxy || !inPrefixes(peer, trusted) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	// Walk right to left and take the first hop that is not one of our
	// proxies. Everything to its right was appended by infrastructure we
	// control; everything to its left is client-supplied.
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !inPrefixes(hop, trusted) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

func inPrefixes(ipStr string, prefixes []netip.Prefix) bool {
	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	for _, p := range prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().String()
	}
	return addr
}
