package codec

import "strings"

// Latin reduces an identifier to lowercase latin letters, digits
// and underscores. It is used for the reserved per-store index
// names that must be legal on every backend.
func Latin(s string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// LocalesIndexName derives the name of the reserved index holding
// the per-category locale lists for a store with this namespace
// prefix
func LocalesIndexName(prefix string) string {
	return Latin(prefix) + "__locales"
}
