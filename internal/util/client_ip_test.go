package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.10 ", ""})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		proxies *TrustedProxies
		want    string
	}{
		{name: "direct peer ignores forwarded headers", remote: "198.51.100.10:4000", xff: "203.0.113.5", realIP: "203.0.113.6", want: "198.51.100.10"},
		{name: "untrusted peer cannot spoof", remote: "198.51.100.10:4000", xff: "203.0.113.5", proxies: proxies, want: "198.51.100.10"},
		{name: "single trusted hop", remote: "10.1.2.3:4000", xff: "203.0.113.5", proxies: proxies, want: "203.0.113.5"},
		{name: "rightmost untrusted hop wins", remote: "10.1.2.3:4000", xff: "1.1.1.1, 203.0.113.5, 10.0.0.9", proxies: proxies, want: "203.0.113.5"},
		{name: "bare address entry", remote: "192.168.1.10:80", xff: "203.0.113.8", proxies: proxies, want: "203.0.113.8"},
		{name: "garbage xff falls back to x-real-ip", remote: "10.1.2.3:4000", xff: "not-an-ip", realIP: "203.0.113.7", proxies: proxies, want: "203.0.113.7"},
		{name: "only proxies in chain", remote: "10.1.2.3:4000", xff: "10.0.0.5, 10.0.0.6", proxies: proxies, want: "10.0.0.5"},
		{name: "ipv4 mapped peer is unmapped", remote: "[::ffff:10.1.2.3]:4000", xff: "203.0.113.9", proxies: proxies, want: "203.0.113.9"},
		{name: "ipv6 peer", remote: "[2001:db8::1]:4000", want: "2001:db8::1"},
		{name: "unparseable remote addr is returned as is", remote: "pipe", want: "pipe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.proxies); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	for _, bad := range []string{"bad-cidr", "10.0.0.0/33", "300.1.1.1"} {
		if _, err := NewTrustedProxies([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	empty, err := NewTrustedProxies([]string{" ", ""})
	if err != nil || empty != nil {
		t.Fatalf("expected nil set for blank entries, got %v err=%v", empty, err)
	}
	if empty.Contains(netip.MustParseAddr("10.0.0.1")) {
		t.Fatalf("nil set must trust nobody")
	}

	proxies, err := NewTrustedProxies([]string{"10.9.9.9/8"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}
	if !proxies.Contains(netip.MustParseAddr("10.200.0.1")) {
		t.Fatalf("expected host bits of the prefix to be masked")
	}
}
