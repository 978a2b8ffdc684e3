// Package textnorm holds the utterance normalization and phrase matching
// shared by intent resolution and reply selection.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize lowercases, trims and collapses internal whitespace.
func Normalize(in string) string {
	return strings.Join(strings.Fields(strings.ToLower(in)), " ")
}

// Words splits normalized text into tokens, dropping punctuation at the
// edges of each token. Apostrophes inside a word are kept ("that's").
func Words(in string) []string {
	fields := strings.FieldsFunc(strings.ToLower(in), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// WordCount counts whitespace separated words.
func WordCount(in string) int {
	return len(strings.Fields(in))
}

// ContainsTerm reports whether term occurs in text on word boundaries.
// Multi-word terms must match consecutive words.
func ContainsTerm(text, term string) bool {
	return containsSeq(Words(text), Words(term))
}

// MatchAny returns the first term from terms present in text.
func MatchAny(text string, terms []string) (string, bool) {
	words := Words(text)
	for _, term := range terms {
		if containsSeq(words, Words(term)) {
			return term, true
		}
	}
	return "", false
}

func containsSeq(words, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(words) {
		return false
	}
	for i := 0; i+len(seq) <= len(words); i++ {
		match := true
		for j := range seq {
			if words[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
