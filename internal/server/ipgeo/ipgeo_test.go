package ipgeo

import (
	"path/filepath"
	"testing"
)

func TestCountryCode_Local(t *testing.T) {
	// Local addresses never reach the MMDB reader, so a nil Checker works.
	var c *Checker
	tests := []struct {
		ip   string
		want string
	}{
		{"127.0.0.1", Local},
		{"::1", Local},
		{"::ffff:127.0.0.1", Local},
		{"10.0.0.1", Local},
		{"192.168.1.1", Local},
		{"172.16.0.1", Local},
		{"0.0.0.0", Local},
		{"::", Local},
		{"169.254.1.1", Local},
		{"fe80::1", Local},
		{"100.64.0.1", Local},
		{"100.127.255.254", Local},
		{"100.128.0.0", ""},
		{"203.0.113.9", ""},
		{"not-an-ip", ""},
	}
	for _, tt := range tests {
		if got := c.CountryCode(tt.ip); got != tt.want {
			t.Errorf("CountryCode(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil Checker: %v", err)
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.mmdb")); err == nil {
		t.Fatal("expected error for a missing database")
	}
}
