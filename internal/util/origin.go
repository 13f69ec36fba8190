package util

import (
	"strings"

	"github.com/samber/lo"
)

// OriginAllowed reports whether origin is on the allow-list. "*" admits
// any origin. Comparison ignores case and a trailing slash.
func OriginAllowed(allowed []string, origin string) bool {
	if lo.Contains(allowed, "*") {
		return true
	}
	origin = normalizeOrigin(origin)
	if origin == "" {
		return false
	}
	return lo.ContainsBy(allowed, func(a string) bool {
		return normalizeOrigin(a) == origin
	})
}

func normalizeOrigin(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "/"))
}
