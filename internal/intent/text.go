package intent

import (
	"strings"
	"unicode"
)

// tokenize lowercases text and splits it into words. Hyphens and
// apostrophes stay inside words so codes like "sku-42" survive.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
}

// hasPhrase reports whether phrase occurs in tokens on word boundaries.
func hasPhrase(tokens []string, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, w := range phrase {
			if tokens[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// hasPrefixWord reports whether some token extends word, e.g. "recommend"
// in "recommendations". Short words are ignored to avoid "hi" in "his".
func hasPrefixWord(tokens []string, word string) bool {
	if len(word) < 4 {
		return false
	}
	for _, t := range tokens {
		if len(t) > len(word) && strings.HasPrefix(t, word) {
			return true
		}
	}
	return false
}

// ContainsPhrase reports whether phrase appears in text as whole words,
// ignoring case and punctuation.
func ContainsPhrase(text, phrase string) bool {
	return hasPhrase(tokenize(text), tokenize(phrase))
}

func normalize(text string) string {
	return strings.Join(tokenize(text), " ")
}
