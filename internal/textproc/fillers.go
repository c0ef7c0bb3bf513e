package textproc

// defaultFillers is the closed set of disfluency markers removed from live
// transcripts before alignment. Matching is done on normalized forms.
var defaultFillers = []string{
	"um", "uh", "uhm", "ah", "er", "erm", "hmm", "hm", "mm", "mhm", "huh",
}

// FillerFilter removes speech disfluencies ("um", "uh", ...) from a token
// stream while preserving the relative order of the remaining tokens.
// It must only ever run on the spoken side, never on reference text.
//
// The zero value is not usable; construct with [NewFillerFilter].
// A FillerFilter is read-only after construction and safe for concurrent use.
type FillerFilter struct {
	set map[string]struct{}
}

// NewFillerFilter builds a filter over the given marker words. Each word is
// normalized before insertion. When words is empty the built-in default set
// is used.
func NewFillerFilter(words ...string) *FillerFilter {
	if len(words) == 0 {
		words = defaultFillers
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if n := Normalize(w); n != "" {
			set[n] = struct{}{}
		}
	}
	return &FillerFilter{set: set}
}

// IsFiller reports whether the normalized form of token is a disfluency marker.
func (f *FillerFilter) IsFiller(token string) bool {
	_, ok := f.set[Normalize(token)]
	return ok
}

// Strip returns tokens with all filler entries removed. The input slice is
// not modified.
func (f *FillerFilter) Strip(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if f.IsFiller(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
