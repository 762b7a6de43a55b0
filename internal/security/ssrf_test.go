package security

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func staticLookup(table map[string][]string) LookupIPFunc {
	return func(host string) ([]net.IP, error) {
		addrs, ok := table[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		ips := make([]net.IP, 0, len(addrs))
		for _, a := range addrs {
			ips = append(ips, net.ParseIP(a))
		}
		return ips, nil
	}
}

func TestValidateScheme(t *testing.T) {
	v := &URLValidator{LookupIP: staticLookup(map[string][]string{
		"example.com": {"93.184.216.34"},
	})}

	if err := v.Validate("https://example.com/page"); err != nil {
		t.Errorf("https allowed url rejected: %v", err)
	}
	if err := v.Validate("http://example.com"); err != nil {
		t.Errorf("http allowed url rejected: %v", err)
	}

	for _, raw := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"gopher://example.com",
		"javascript:alert(1)",
	} {
		if err := v.Validate(raw); err == nil {
			t.Errorf("Validate(%q) allowed, want scheme error", raw)
		}
	}
}

func TestValidateMetadataHosts(t *testing.T) {
	v := &URLValidator{}
	for _, raw := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://metadata.google/",
		"http://100.100.100.200/latest/meta-data/",
	} {
		err := v.Validate(raw)
		if err == nil {
			t.Errorf("Validate(%q) allowed, want metadata block", raw)
			continue
		}
		if !strings.Contains(err.Error(), "metadata") {
			t.Errorf("Validate(%q) error = %v", raw, err)
		}
	}
}

func TestValidatePrivateLiterals(t *testing.T) {
	v := &URLValidator{}
	blocked := []string{
		"http://127.0.0.1/",
		"http://localhost/admin",
		"http://10.0.0.5/",
		"http://172.16.1.1/",
		"http://192.168.1.1/",
		"http://169.254.1.1/",
		"http://0.0.0.0/",
		"http://[::1]/",
		"http://192.0.2.1/",
		"http://240.1.2.3/",
	}
	for _, raw := range blocked {
		if err := v.Validate(raw); err == nil {
			t.Errorf("Validate(%q) allowed, want private-address block", raw)
		}
	}
}

func TestValidateDNSRebind(t *testing.T) {
	v := &URLValidator{LookupIP: staticLookup(map[string][]string{
		"internal.example.com": {"10.0.0.5"},
		"multi.example.com":    {"93.184.216.34", "192.168.1.7"},
		"clean.example.com":    {"93.184.216.34"},
	})}

	if err := v.Validate("http://internal.example.com/"); err == nil {
		t.Error("host resolving to private IP allowed")
	}
	// Every resolved address is checked, not just the first.
	if err := v.Validate("http://multi.example.com/"); err == nil {
		t.Error("host with one private address among several allowed")
	}
	if err := v.Validate("http://clean.example.com/"); err != nil {
		t.Errorf("public host rejected: %v", err)
	}
	if err := v.Validate("http://unresolvable.example.com/"); err == nil {
		t.Error("unresolvable host allowed")
	}
}

func TestValidateBlockedPorts(t *testing.T) {
	v := &URLValidator{LookupIP: staticLookup(map[string][]string{
		"example.com": {"93.184.216.34"},
	})}
	for _, port := range []string{"22", "25", "2379", "3306", "5432", "6379", "9200", "11211", "27017"} {
		raw := "http://example.com:" + port + "/"
		if err := v.Validate(raw); err == nil {
			t.Errorf("Validate(%q) allowed, want port block", raw)
		}
	}
	if err := v.Validate("https://example.com:8443/"); err != nil {
		t.Errorf("benign port rejected: %v", err)
	}
}

func TestValidateAllowPrivate(t *testing.T) {
	v := &URLValidator{AllowPrivate: true}
	if err := v.Validate("http://localhost:11434/api/chat"); err != nil {
		t.Errorf("AllowPrivate localhost rejected: %v", err)
	}
	// Metadata endpoints stay blocked even with AllowPrivate.
	if err := v.Validate("http://169.254.169.254/"); err == nil {
		t.Error("metadata endpoint allowed under AllowPrivate")
	}
}
