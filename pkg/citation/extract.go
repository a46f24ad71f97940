package citation

import (
	"regexp"
	"strings"

	"github.com/m-mizutani/matins/pkg/model"
)

var (
	labelPattern = regexp.MustCompile(`(?i)\b(?:vers[ií]culo|verse)\b`)

	// "<quote>" (<citation>), allowing emphasis markers between the two parts
	quotedPattern = regexp.MustCompile(`["“«]\s*([^"“”«»]+?)\s*["”»][\s*_~]*\(\s*([^()\n]+?)\s*\)`)

	// (<book words> <chapter>:<verse>[-<verse>])
	barePattern = regexp.MustCompile(`\(\s*((?:[1-3]\s*)?\p{L}[\p{L}\p{M}.]*(?:\s+\p{L}[\p{L}\p{M}.]*)*\s+\d{1,3}\s*:\s*\d{1,3}(?:\s*[-–]\s*\d{1,3})?)\s*\)`)
)

// Extractor finds the scripture reference inside a generated devotional
type Extractor struct{}

// NewExtractor returns an Extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the reference in text or nil when none is found. A quoted excerpt
// followed by a parenthesized citation wins; otherwise a bare parenthesized
// "<Book> <chapter>:<verse>" yields a citation with an empty excerpt.
func (x *Extractor) Extract(text string) *model.Reference {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if ref := extractQuoted(text); ref != nil {
		return ref
	}

	m := barePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &model.Reference{Citation: strings.TrimSpace(m[1])}
}

func extractQuoted(text string) *model.Reference {
	// Prefer the excerpt right after a "Versículo:"/"Verse:" label when present
	if loc := labelPattern.FindStringIndex(text); loc != nil {
		if m := quotedPattern.FindStringSubmatch(text[loc[1]:]); m != nil {
			return newReference(m)
		}
	}

	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return newReference(m)
	}
	return nil
}

func newReference(m []string) *model.Reference {
	quote := strings.TrimSpace(m[1])
	cite := strings.TrimSpace(m[2])
	if quote == "" || cite == "" {
		return nil
	}
	return &model.Reference{Text: quote, Citation: cite}
}
