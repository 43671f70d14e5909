package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/gommon/log"
)

// CheckOrigin builds a websocket origin check from the configured origins.
// With no origins configured it returns nil, which keeps gorilla's same-host
// check.
func CheckOrigin(origins []string) func(r *http.Request) bool {
	allowed, allowAll := normalizeOrigins(origins)
	if !allowAll && len(allowed) == 0 {
		return nil
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin, ok := normalizeOrigin(r.Header.Get("Origin"))
		if !ok {
			return false
		}
		if _, exists := allowed[origin]; !exists {
			log.Warnf("blocked websocket connection from disallowed origin: %q", r.Header.Get("Origin"))
			return false
		}
		return true
	}
}

func normalizeOrigins(origins []string) (map[string]struct{}, bool) {
	normalized := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warnf("ignoring invalid origin in configuration: %q", origin)
			continue
		}
		normalized[normalizedOrigin] = struct{}{}
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
