package domain

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a name to a container-name-safe slug: lowercase letters,
// digits, and hyphens survive, uppercase letters are lowered, spaces become
// hyphens, and everything else is dropped. Runs of spaces are not collapsed.
//
// Example:
//
//	Slugify("Hello World")   // returns "hello-world"
//	Slugify("My App 2.0!")   // returns "my-app-20"
//	Slugify("Acme Shop")     // returns "acme-shop"
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}
