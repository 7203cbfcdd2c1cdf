package grpc

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// ClientIPResolver finds the scanning client's address. x-forwarded-for is
// read only when the transport peer is one of the trusted proxies, so a
// direct caller cannot pick its own rate-limit bucket.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver trusts the given proxy networks. With none, the peer
// address is always used.
func NewClientIPResolver(trusted []*net.IPNet) *ClientIPResolver {
	return &ClientIPResolver{trusted: trusted}
}

// Resolve returns the client address for ctx, or "" when there is no peer.
func (r *ClientIPResolver) Resolve(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	remote := p.Addr.String()
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	if !r.isTrusted(remote) {
		return remote
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return remote
	}
	var hops []string
	for _, v := range md.Get("x-forwarded-for") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	// Walk back from the nearest hop; the first untrusted address is the client.
	for i := len(hops) - 1; i >= 0; i-- {
		if net.ParseIP(hops[i]) == nil {
			return remote
		}
		if !r.isTrusted(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return remote
}

func (r *ClientIPResolver) isTrusted(addr string) bool {
	if r == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range r.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
