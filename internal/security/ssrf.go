package security

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Known cloud metadata endpoints, blocked by literal hostname.
var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"metadata.google":          true,
	"100.100.100.200":          true,
}

// Ports of common internal services that outbound tools must not reach.
var blockedPorts = map[int]bool{
	22:    true, // ssh
	25:    true, // smtp
	2379:  true, // etcd
	3306:  true, // mysql
	5432:  true, // postgres
	6379:  true, // redis
	9200:  true, // elasticsearch
	11211: true, // memcached
	27017: true, // mongodb
}

var localhostAliases = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"ip6-localhost":         true,
	"ip6-loopback":          true,
}

// LookupIPFunc resolves a hostname to its addresses. Swappable in tests.
type LookupIPFunc func(host string) ([]net.IP, error)

// URLValidator validates outbound request targets against the SSRF
// invariants: scheme allow-list, metadata hosts, private/reserved
// addresses (by literal and by DNS), and internal-service ports.
type URLValidator struct {
	// AllowPrivate disables the private-address and port checks. Used
	// only for explicitly local targets (e.g. an Ollama endpoint).
	AllowPrivate bool

	// LookupIP overrides DNS resolution; nil uses net.LookupIP.
	LookupIP LookupIPFunc
}

// Validate returns an error when the URL must not be fetched.
func (v *URLValidator) Validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %s", rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme %q is not allowed, use http:// or https://", scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("URL has no hostname")
	}

	if metadataHosts[host] {
		return fmt.Errorf("access to cloud metadata endpoint %q is blocked", host)
	}

	if v.AllowPrivate {
		return nil
	}

	if localhostAliases[host] {
		return fmt.Errorf("access to private/local address %q is blocked", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivateAddr(addr) {
			return fmt.Errorf("access to private/local address %q is blocked", host)
		}
	} else {
		// Not an IP literal: resolve and check every address so a DNS
		// name pointing at a private IP is caught before any request.
		lookup := v.LookupIP
		if lookup == nil {
			lookup = net.LookupIP
		}
		ips, lerr := lookup(host)
		if lerr != nil {
			return fmt.Errorf("cannot resolve host %q: %w", host, lerr)
		}
		for _, ip := range ips {
			addr, ok := netip.AddrFromSlice(ip)
			if !ok {
				continue
			}
			if isPrivateAddr(addr.Unmap()) {
				return fmt.Errorf("host %q resolves to private/local address %s, blocked", host, ip)
			}
		}
	}

	if portStr := parsed.Port(); portStr != "" {
		var port int
		fmt.Sscanf(portStr, "%d", &port)
		if blockedPorts[port] {
			return fmt.Errorf("access to port %d is blocked (common internal service port)", port)
		}
	}

	return nil
}

func isPrivateAddr(addr netip.Addr) bool {
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		isReservedAddr(addr)
}

func isReservedAddr(addr netip.Addr) bool {
	if addr.Is4() {
		b := addr.As4()
		// 192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24 are documentation
		// ranges; 240.0.0.0/4 is reserved.
		switch {
		case b[0] == 192 && b[1] == 0 && b[2] == 2:
			return true
		case b[0] == 198 && b[1] == 51 && b[2] == 100:
			return true
		case b[0] == 203 && b[1] == 0 && b[2] == 113:
			return true
		case b[0] >= 240:
			return true
		}
	}
	return false
}
