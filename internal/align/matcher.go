package align

import "github.com/antzucaro/matchr"

// defaultSubstitutions lists recognizer outputs accepted in place of common
// short expected words. Short words carry little acoustic signal, so they
// are matched against this whitelist only — never fuzzily.
var defaultSubstitutions = map[string][]string{
	"a":  {"uh", "ah", "eh"},
	"an": {"and", "in"},
	"i":  {"eye", "hi"},
	"to": {"too", "two"},
	"in": {"an", "and"},
	"is": {"its", "his"},
	"be": {"bee", "b"},
	"by": {"buy", "bye"},
	"of": {"off", "a"},
	"he": {"a", "the"},
	"we": {"wii", "whee"},
	"no": {"know", "now"},
	"so": {"sew", "soap"},
	"or": {"oar", "ore"},
}

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithSubstitutions replaces the short-word substitution table. Keys are
// expected words of length <= 2; values are the spoken forms accepted for
// them. Both sides must already be normalized.
func WithSubstitutions(table map[string][]string) MatcherOption {
	return func(m *Matcher) {
		m.substitutions = table
	}
}

// WithMaxEditDistance sets the Levenshtein tolerance for long expected words
// (length > 5). Default: 2. Expected words of length 4–5 are always held to
// distance 1 regardless of this setting.
func WithMaxEditDistance(d int) MatcherOption {
	return func(m *Matcher) {
		m.maxEditDistance = d
	}
}

// Matcher decides whether a spoken token counts as a given expected token.
// Tolerance is graduated by expected-word length: two-letter words match
// only via the substitution whitelist, mid-length words need a shared
// two-character prefix, and longer words absorb edit-distance noise.
//
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	substitutions   map[string][]string
	maxEditDistance int
}

// NewMatcher returns a [Matcher] configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		substitutions:   defaultSubstitutions,
		maxEditDistance: 2,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match reports whether spoken counts as a reading of expected. Both inputs
// must be normalized comparison tokens. Rules are applied in order, first
// satisfied wins:
//
//  1. exact equality;
//  2. expected length <= 2: substitution whitelist only;
//  3. expected length 3–4: equal two-character prefix and length
//     difference <= 1;
//  4. one token is a prefix of the other and the shorter is >= 3 runes;
//  5. both >= 4: edit distance within tolerance (1 when expected <= 5);
//  6. both >= 3, at least one exactly 3: edit distance <= 1.
func (m *Matcher) Match(spoken, expected string) bool {
	if spoken == expected {
		return spoken != ""
	}

	// Short expected words never fuzzy-match; whitelist or nothing.
	if len(expected) <= 2 {
		for _, alt := range m.substitutions[expected] {
			if spoken == alt {
				return true
			}
		}
		return false
	}

	if len(expected) <= 4 &&
		len(spoken) >= 2 && spoken[:2] == expected[:2] &&
		absInt(len(spoken)-len(expected)) <= 1 {
		return true
	}

	// Prefix tolerance covers partial interim words and inflected forms.
	shorter, longer := spoken, expected
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) >= 3 && len(longer) > len(shorter) && longer[:len(shorter)] == shorter {
		return true
	}

	if len(spoken) >= 4 && len(expected) >= 4 {
		limit := m.maxEditDistance
		if len(expected) <= 5 && limit > 1 {
			limit = 1
		}
		return matchr.Levenshtein(spoken, expected) <= limit
	}

	if len(spoken) >= 3 && len(expected) >= 3 {
		return matchr.Levenshtein(spoken, expected) <= 1
	}

	return false
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
