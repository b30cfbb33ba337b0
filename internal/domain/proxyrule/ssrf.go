package proxyrule

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrBlockedTarget marks a target URL rejected by the SSRF guard. Admin
// handlers map it to a 400.
var ErrBlockedTarget = errors.New("target blocked by ssrf guard")

// privateNetworks contains CIDR ranges that proxy targets must not resolve
// to, keeping rule targets from reaching internal services.
var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC 1918 private
		"172.16.0.0/12",  // RFC 1918 private
		"192.168.0.0/16", // RFC 1918 private
		"169.254.0.0/16", // Link-local (AWS/GCP metadata at 169.254.169.254)
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR in privateNetworks: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// metadataHosts are cloud metadata endpoints blocked by name, in case a
// resolver special-cases them.
var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"metadata.goog":            true,
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// PermittedInternalHost reports whether host may be targeted despite
// resolving to a private address. Same-cluster service names and local
// loopback are allowed so rules can hop to sidecar services.
func PermittedInternalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	return strings.HasSuffix(host, ".svc") || strings.HasSuffix(host, ".svc.cluster.local")
}

// Resolver is the DNS surface Guard needs; *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard vets proxy targets against private address space. Checks run at
// rule creation and are re-applied at connection time, after DNS
// resolution, which also defeats rebinding.
type Guard struct {
	resolver Resolver
}

// NewGuard returns a Guard using the process default resolver.
func NewGuard() *Guard {
	return &Guard{resolver: net.DefaultResolver}
}

// NewGuardWithResolver returns a Guard with a custom resolver, for tests.
func NewGuardWithResolver(r Resolver) *Guard {
	return &Guard{resolver: r}
}

// CheckTarget validates a rule target URL: http(s) scheme, and a host
// that neither names a metadata endpoint nor resolves to a private range,
// unless the host is in the permitted-internal set. Non-HTTPS schemes are
// only allowed for permitted-internal hosts.
func (g *Guard) CheckTarget(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: unparsable url %q", ErrBlockedTarget, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedTarget, u.Scheme)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedTarget)
	}
	if PermittedInternalHost(host) {
		return nil
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: plain http to %q outside the permitted-internal set", ErrBlockedTarget, host)
	}
	if metadataHosts[host] {
		return fmt.Errorf("%w: metadata endpoint %q", ErrBlockedTarget, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: private address %s", ErrBlockedTarget, ip)
		}
		return nil
	}
	ips, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: DNS resolution failed for %q: %v", ErrBlockedTarget, host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip.IP) {
			return fmt.Errorf("%w: %q resolves to private address %s", ErrBlockedTarget, host, ip.IP)
		}
	}
	return nil
}

// DialContext returns a dialer that re-applies the private-range check at
// connection time and pins the first vetted IP, so a rebinding resolver
// cannot swap the address between check and connect. Permitted-internal
// hosts dial straight through.
func (g *Guard) DialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid address %q: %v", ErrBlockedTarget, addr, err)
		}
		if PermittedInternalHost(host) {
			return dialer.DialContext(ctx, network, addr)
		}
		if metadataHosts[strings.ToLower(host)] {
			return nil, fmt.Errorf("%w: metadata endpoint %q", ErrBlockedTarget, host)
		}

		ips, err := g.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("%w: DNS resolution failed for %q: %v", ErrBlockedTarget, host, err)
		}
		for _, ip := range ips {
			if isPrivateIP(ip.IP) {
				return nil, fmt.Errorf("%w: blocked connection to private IP %s (resolved from %s)", ErrBlockedTarget, ip.IP, host)
			}
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("%w: no IPs resolved for %q", ErrBlockedTarget, host)
		}
		pinnedAddr := net.JoinHostPort(ips[0].IP.String(), port)
		return dialer.DialContext(ctx, network, pinnedAddr)
	}
}
