package session

import "strings"

// DefaultID is used when neither the request nor the configuration names a session.
const DefaultID = "default"

// Resolve determines the session id using precedence:
// 1. the id supplied by the caller
// 2. the configured default
// 3. "default"
func Resolve(requested, configured string) string {
	if id := strings.TrimSpace(requested); id != "" {
		return id
	}
	if configured != "" {
		return configured
	}
	return DefaultID
}
