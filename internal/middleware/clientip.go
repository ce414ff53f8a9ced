package middleware

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// ClientIPResolver identifies the client of a request. The peer address is
// the client unless the peer is a trusted proxy, in which case the nearest
// untrusted X-Forwarded-For hop (or X-Real-IP) is.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver parses trusted proxies given as IPs or CIDR prefixes.
// With none, forwarding headers are ignored.
func NewClientIPResolver(trustedProxies ...string) (*ClientIPResolver, error) {
	r := &ClientIPResolver{}

	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}

			r.trusted = append(r.trusted, prefix.Masked())

			continue
		}

		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}

		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return r, nil
}

// ParseTrustedProxies splits a comma-separated list for NewClientIPResolver.
func ParseTrustedProxies(list string) (*ClientIPResolver, error) {
	return NewClientIPResolver(strings.Split(list, ",")...)
}

// ClientIP returns the address requests from ctx are attributed to.
func (r *ClientIPResolver) ClientIP(ctx huma.Context) string {
	peer := peerIP(ctx.RemoteAddr())
	if !r.isTrusted(peer) {
		return peer
	}

	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")

		// walk back from the proxy; the first hop we don't run is the client
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}

			if !r.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(ctx.Header("X-Real-IP")); xri != "" {
		return xri
	}

	return peer
}

func (r *ClientIPResolver) isTrusted(ip string) bool {
	if len(r.trusted) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	addr = addr.Unmap()

	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}

func peerIP(addr string) string {
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return ip
}
