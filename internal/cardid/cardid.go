// Package cardid derives the join key between a payment method and its
// reward rule set.
package cardid

import (
	"strings"
)

// Generate returns the deterministic card type ID for an issuer and
// card name: lower-cased issuer, a hyphen, then the lower-cased name
// with spaces hyphenated. The same card held by different users always
// maps to the same rule set.
func Generate(issuer, name string) string {
	return slug(issuer) + "-" + slug(name)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "-")
}
