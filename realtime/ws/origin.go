package ws

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed checks the request Origin header against allowed.
//
// Entries may be a full origin ("https://example.com"), a hostname
// ("example.com"), a host:port pair, or a wildcard ("*.example.com", which
// matches subdomains only). A missing header is accepted only when
// allowNoOrigin is set.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	var host, hostname string
	if u, err := url.Parse(origin); err == nil {
		host = strings.ToLower(u.Host)
		hostname = strings.ToLower(u.Hostname())
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" && originMatches(strings.ToLower(origin), host, hostname, entry) {
			return true
		}
	}
	return false
}

func originMatches(origin, host, hostname, entry string) bool {
	switch {
	case strings.Contains(entry, "://"):
		return origin == entry
	case strings.HasPrefix(entry, "*."):
		return hostname != "" && strings.HasSuffix(hostname, entry[1:])
	}
	if _, _, err := net.SplitHostPort(entry); err == nil {
		return host == entry
	}
	return (hostname != "" && hostname == entry) || origin == entry
}

// NewOriginChecker returns a websocket upgrader CheckOrigin function.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}

// OriginFromURL converts a ws:// or wss:// URL to the matching HTTP origin.
func OriginFromURL(wsURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(wsURL))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("ws url %q missing host", wsURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "wss":
		return "https://" + u.Host, nil
	case "ws":
		return "http://" + u.Host, nil
	default:
		return "", fmt.Errorf("unsupported ws scheme %q", u.Scheme)
	}
}
