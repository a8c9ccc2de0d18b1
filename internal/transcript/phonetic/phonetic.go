// Package phonetic implements [transcript.TermMatcher] with Double Metaphone
// encoding plus Jaro-Winkler ranking. Speech engines reliably mangle drug
// names into phonetic neighbours ("met forming" for "metformin"), so the
// matcher first narrows the lexicon to terms that share a Metaphone code with
// the input, then picks the candidate with the highest Jaro-Winkler score
// above the phonetic threshold. When no term is phonetically close, a
// stricter pure Jaro-Winkler pass (default 0.85) catches plain misspellings.
//
// Multi-word terms like "type 2 diabetes" work: codes are computed per word
// and the ranking considers full-string, space-stripped, and best pairwise
// token scores.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically-matched term. Default 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the pure
// string-similarity fallback. Default 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher ranks lexicon terms against transcribed words. Read-only after
// construction, so safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the lexicon term most phonetically similar to word, which may
// be a single word or a space-separated n-gram. Per the
// [transcript.TermMatcher] contract, when matched is false corrected equals
// word unchanged and confidence is 0.
func (m *Matcher) Match(word string, lexicon []string) (corrected string, confidence float64, matched bool) {
	if len(lexicon) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := metaphoneCodes(wordTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, term := range lexicon {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		phonetic := sharesCode(inputCodes, metaphoneCodes(termTokens))
		score := similarity(wordTokens, termTokens, wordLower, termLower)

		switch {
		case phonetic && score >= m.phoneticThreshold:
			// A phonetic candidate displaces any fuzzy-only one.
			if !bestPhonetic || score > bestScore {
				bestTerm, bestScore, bestPhonetic = term, score, true
			}
		case !phonetic && !bestPhonetic:
			if score >= m.fuzzyThreshold && score > bestScore {
				bestTerm, bestScore = term, score
			}
		}
	}

	if bestTerm == "" {
		return word, 0, false
	}
	return bestTerm, bestScore, true
}

// metaphoneCodes unions the Double Metaphone codes of all tokens. Words too
// short to encode contribute nothing.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score across three views of the
// pair: the full strings ("met forming" vs "metformin"), the space-stripped
// strings ("metforming" vs "metformin"), and every input-token/term-token
// pairing for when one spoken word lines up with one term word.
func similarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	for _, it := range inputTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
