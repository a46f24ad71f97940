package conversation

import (
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/matins/pkg/citation"
)

// questionKeywords are matched against folded text (lowercase, no diacritics)
var questionKeywords = []string{
	"quem", "como", "por que", "porque", "quando", "onde", "qual", "quais",
	"o que", "oq", "pq", "me explica", "pode explicar", "explique", "significa",
	"entendi", "nao entendi", "duvida",
}

const shortMessageRunes = 10

// IsQuestion reports whether text asks something: it contains a question mark or
// one of the Portuguese question keywords
func IsQuestion(text string) bool {
	folded := citation.Fold(text)
	if strings.Contains(folded, "?") {
		return true
	}
	for _, kw := range questionKeywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// needsReply is false for short acknowledgements like "amém" or "obrigado"
func needsReply(text string) bool {
	return IsQuestion(text) || utf8.RuneCountInString(strings.TrimSpace(text)) >= shortMessageRunes
}
