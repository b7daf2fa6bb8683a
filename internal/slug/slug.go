// Package slug turns display names into identifier-safe tokens.
package slug

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Derive lowercases name, collapses every run of characters outside
// [a-z0-9] into a single hyphen and trims hyphens from both ends.
// Degenerate input yields a random 32-char hex token, so the result is
// never empty.
func Derive(name string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return s
}
