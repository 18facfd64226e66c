package ws

import (
	"net/http/httptest"
	"testing"
)

func TestIsOriginAllowed(t *testing.T) {
	cases := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"full origin", "http://example.com:5173", []string{"http://example.com:5173"}, true},
		{"full origin port differs", "http://example.com:5173", []string{"http://example.com"}, false},
		{"hostname ignores port", "https://ExAmPlE.com:5173", []string{"example.com"}, true},
		{"host:port", "https://example.com:5173", []string{"example.com:5173"}, true},
		{"host:port mismatch", "https://example.com:5173", []string{"example.com:9999"}, false},
		{"wildcard subdomain", "https://a.example.com", []string{"*.example.com"}, true},
		{"wildcard excludes base", "https://example.com", []string{"*.example.com"}, false},
		{"wildcard suffix trick", "https://badexample.com", []string{"*.example.com"}, false},
		{"null origin", "null", []string{"null"}, true},
		{"not listed", "https://evil.com", []string{"example.com"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://hub/ws", nil)
			r.Header.Set("Origin", tc.origin)
			if got := IsOriginAllowed(r, tc.allowed, false); got != tc.want {
				t.Fatalf("IsOriginAllowed(%q, %v)=%v, want %v", tc.origin, tc.allowed, got, tc.want)
			}
		})
	}
}

func TestIsOriginAllowed_NoOrigin(t *testing.T) {
	r := httptest.NewRequest("GET", "http://hub/ws", nil)
	if IsOriginAllowed(r, []string{"example.com"}, false) {
		t.Fatal("expected missing origin to be rejected")
	}
	if !IsOriginAllowed(r, nil, true) {
		t.Fatal("expected missing origin to be allowed")
	}
}

func TestOriginFromURL(t *testing.T) {
	cases := map[string]string{
		"wss://example.com/ws":      "https://example.com",
		"ws://example.com:8080/hub": "http://example.com:8080",
	}
	for in, want := range cases {
		got, err := OriginFromURL(in)
		if err != nil || got != want {
			t.Fatalf("OriginFromURL(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"https://example.com", "wss:///path"} {
		if _, err := OriginFromURL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
