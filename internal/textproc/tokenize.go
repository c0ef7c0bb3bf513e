// Package textproc prepares text for alignment. It turns raw strings into
// parallel display/comparison token sequences and strips speech disfluencies
// from live transcripts.
//
// Two callers share the tokenizer with different needs:
//
//   - Reference passages keep every token, including pure-punctuation ones,
//     so the display sequence and the comparison sequence stay index-aligned
//     for highlighting. Pure-punctuation tokens carry an empty comparison
//     form and auto-match during alignment.
//
//   - Live transcripts only need the comparison forms; empty forms are
//     dropped because recognizer punctuation carries no spoken signal.
//
// Tokenization is deterministic and stateless: identical input always yields
// identical output.
package textproc

import (
	"strings"
	"unicode"
)

// Tokens holds the parallel token sequences for one piece of text.
// len(Display) == len(Comparison) always; Comparison[i] is the normalized
// form of Display[i] and may be empty when Display[i] is pure punctuation.
type Tokens struct {
	Display    []string
	Comparison []string
}

// Len returns the number of tokens.
func (t Tokens) Len() int { return len(t.Display) }

// sentence punctuation acts as a token boundary even without surrounding
// whitespace, so recognizer output like "stopped.He" splits cleanly.
func isSentencePunct(r rune) bool {
	switch r {
	case '.', ',', ';', ':', '!', '?':
		return true
	}
	return false
}

// Tokenize splits raw into display tokens (whitespace-split substrings with
// original characters preserved) and comparison tokens (lowercased, stripped
// of all non-alphanumeric runes). A run of sentence punctuation followed by
// an alphanumeric character is an additional boundary; the punctuation stays
// with the preceding display token.
func Tokenize(raw string) Tokens {
	var out Tokens
	for _, field := range strings.Fields(raw) {
		for _, seg := range splitAtPunct(field) {
			out.Display = append(out.Display, seg)
			out.Comparison = append(out.Comparison, Normalize(seg))
		}
	}
	return out
}

// ComparisonTokens returns only the non-empty comparison forms of raw.
// This is the spoken-side entry point: punctuation-only fragments are noise
// and are discarded rather than kept as placeholders.
func ComparisonTokens(raw string) []string {
	toks := Tokenize(raw)
	out := make([]string, 0, len(toks.Comparison))
	for _, c := range toks.Comparison {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Normalize lowercases word and strips every non-alphanumeric rune.
// The result may be empty for pure-punctuation input.
func Normalize(word string) string {
	var b strings.Builder
	b.Grow(len(word))
	for _, r := range strings.ToLower(word) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitAtPunct cuts field after each sentence-punctuation run that is
// immediately followed by an alphanumeric rune. "stopped.He" becomes
// ["stopped.", "He"]; "Hello," stays a single segment.
func splitAtPunct(field string) []string {
	runes := []rune(field)
	var segs []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentencePunct(runes[i]) {
			continue
		}
		// Extend over the whole punctuation run.
		j := i
		for j+1 < len(runes) && isSentencePunct(runes[j+1]) {
			j++
		}
		if j+1 < len(runes) && (unicode.IsLetter(runes[j+1]) || unicode.IsDigit(runes[j+1])) {
			segs = append(segs, string(runes[start:j+1]))
			start = j + 1
		}
		i = j
	}
	segs = append(segs, string(runes[start:]))
	return segs
}
