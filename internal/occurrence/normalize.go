package occurrence

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var titleCaser = cases.Title(language.Und, cases.NoLower)

// NormalizeName canonicalizes a scientific name so the same taxon keys
// identically regardless of feed formatting: Unicode NFC, collapsed
// whitespace, genus capitalized with the rest lowercased.
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		if i == 0 {
			fields[i] = titleCaser.String(strings.ToLower(f))
		} else {
			fields[i] = strings.ToLower(f)
		}
	}
	return strings.Join(fields, " ")
}
