package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// ClientIPMiddleware resolves the client address once per request.
//
// X-Forwarded-For and X-Real-IP are only honoured when the direct peer is a
// trusted proxy. With no trusted proxies the socket address is always used,
// so clients cannot pick their own rate limit bucket.
type ClientIPMiddleware struct {
	trusted []netip.Prefix
}

// NewClientIPMiddleware creates the middleware. trusted lists the proxy
// networks allowed to report the client address.
func NewClientIPMiddleware(trusted []netip.Prefix) *ClientIPMiddleware {
	return &ClientIPMiddleware{trusted: trusted}
}

// Handler stores the resolved address in the request context.
func (m *ClientIPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey{}, m.resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *ClientIPMiddleware) resolve(r *http.Request) string {
	peer := remoteIP(r)
	if !m.trusts(peer) {
		return peer
	}

	// X-Forwarded-For: client, proxy1, proxy2. Walk from the nearest hop
	// and stop at the first address no trusted proxy vouches for.
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(header, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !m.trusts(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}

	// X-Real-IP (nginx)
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if _, err := netip.ParseAddr(xri); err == nil {
			return xri
		}
	}

	return peer
}

func (m *ClientIPMiddleware) trusts(ip string) bool {
	if len(m.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range m.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// getClientIP returns the address resolved by ClientIPMiddleware, or the
// socket address when the middleware did not run.
func getClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
