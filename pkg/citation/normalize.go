package citation

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer maps a citation to the key used for equality checks. Implementations
// must be pure.
type Normalizer interface {
	Normalize(citation string) string
}

// NormalizerFunc adapts a plain function to Normalizer
type NormalizerFunc func(citation string) string

func (f NormalizerFunc) Normalize(citation string) string {
	return f(citation)
}

var (
	// Strict removes all whitespace and case-folds. "João 3:16" and "joão3:16" are
	// equal, "Joao 3:16" is not.
	Strict Normalizer = NormalizerFunc(func(citation string) string {
		return cases.Fold().String(stripSpace(citation))
	})

	// AccentInsensitive is Strict plus diacritics folding, so "João 3:16" and
	// "Joao 3:16" are equal.
	AccentInsensitive Normalizer = NormalizerFunc(func(citation string) string {
		return stripMarks(cases.Fold().String(stripSpace(citation)))
	})
)

// Equal reports whether two citations are the same under n
func Equal(n Normalizer, a, b string) bool {
	return n.Normalize(a) == n.Normalize(b)
}

// Fold lowercases text and strips diacritics while keeping spacing. It is used for
// keyword matching on free text, e.g. "Não entendi" -> "nao entendi".
func Fold(text string) string {
	return stripMarks(strings.ToLower(text))
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
