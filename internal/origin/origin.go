// Package origin normalizes browser Origin headers and checks them against a
// configured allowlist.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns it in canonical
// scheme://host[:port] form (lowercased, default ports stripped).
//
// The special Origin value "null" is allowed and returned as-is.
func Normalize(header string) (string, bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}

	var port uint64
	if raw := u.Port(); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, true
}

// Allowed reports whether the given Origin header may open a connection.
//
// An empty allowlist admits every origin, including requests without an
// Origin header. A non-empty allowlist admits an origin when an entry is "*"
// or equals the normalized origin.
func Allowed(header string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	if strings.TrimSpace(header) == "" {
		// Non-browser clients send no Origin; an explicit allowlist only
		// restricts browsers.
		return true
	}
	normalized, ok := Normalize(header)
	if !ok {
		return false
	}
	for _, entry := range allowlist {
		if entry == "*" || entry == normalized {
			return true
		}
	}
	return false
}
