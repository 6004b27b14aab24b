package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrInvalidTarget means the target is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("invalid target url")
	// ErrBlockedHost means the target points at loopback, private or
	// otherwise internal address space.
	ErrBlockedHost = errors.New("target host is blocked")
)

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// HostPolicy is the SSRF policy shared by the fetcher and the relay handler.
type HostPolicy struct {
	// Resolve looks up hostnames and rejects them when any address is internal.
	Resolve  bool
	Resolver Resolver

	// AllowHosts bypasses every check for the listed hosts (exact, case-insensitive).
	AllowHosts []string
}

// DefaultPolicy checks literal hosts only.
func DefaultPolicy() *HostPolicy {
	return &HostPolicy{}
}

// Check parses rawURL and returns it when the target may be fetched.
func (p *HostPolicy) Check(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidTarget, u.Scheme)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	if p == nil {
		p = DefaultPolicy()
	}
	for _, allowed := range p.AllowHosts {
		if strings.EqualFold(allowed, host) {
			return u, nil
		}
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
		return u, nil
	}

	if p.Resolve {
		resolver := p.Resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		for _, a := range addrs {
			ip, ok := netip.AddrFromSlice(a.IP)
			if ok && IsBlockedAddr(ip) {
				return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlockedHost, host, ip)
			}
		}
	}
	return u, nil
}

// IsBlockedAddr reports loopback, private, link-local, unspecified and
// special-purpose addresses.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
