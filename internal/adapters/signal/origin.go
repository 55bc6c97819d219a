package signal

import (
	"net/url"
	"strings"
)

// ClientTokenKey is the gin context key holding the browser session token.
const ClientTokenKey = "client_token"

// OriginAllowed reports whether a browser Origin header is on the allowlist.
// Requests without an Origin header come from non-browser clients and are
// allowed; "*" on the list allows everything.
func OriginAllowed(origin string, allowed []string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" {
			return true
		}
		if n, ok := normalizeOrigin(a); ok && n == normalized {
			return true
		}
	}
	return false
}

func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
