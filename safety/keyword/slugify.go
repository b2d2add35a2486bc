package keyword

import (
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^\pL\pN]+`)

// Lower-cases a string and drops every character which is not a letter or digit: "K.Y.S" becomes "kys".
func Slugify(orig string) string {
	return strings.ToLower(nonSlugChars.ReplaceAllString(orig, ""))
}

// Checks whether some contiguous run of tokens, joined without separators, spells out the slug exactly.
//
// Catches phrases spelled out with separators ("k i l l  y o u r s e l f", "k-y-s") while only matching on token boundaries, so "upskill yourself" does not contain "killyourself".
func ContainsSlug(tokens []string, slug string) bool {
	if slug == "" {
		return false
	}
	for i := range tokens {
		var run strings.Builder
		for _, tok := range tokens[i:] {
			if !strings.HasPrefix(slug[run.Len():], tok) {
				break
			}
			run.WriteString(tok)
			if run.Len() == len(slug) {
				return true
			}
		}
	}
	return false
}
