package merge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName canonicalizes a program name for identity matching: strip
// diacritics, lowercase, drop punctuation, collapse whitespace. Two names
// that normalize equal are treated as the same real-world program.
func NormalizeName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// LogicalID derives the identity under which candidates merge: the program
// code when present, else the normalized name. Codes are scarce but precise;
// names are universal but noisy.
func LogicalID(programCode, programName string) string {
	if code := strings.TrimSpace(programCode); code != "" {
		return strings.ToLower(code)
	}
	return NormalizeName(programName)
}
