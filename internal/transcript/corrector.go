package transcript

import (
	"strings"

	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

// Corrector applies phonetic term alignment to STT transcripts. It is safe
// for concurrent use.
type Corrector struct {
	matcher TermMatcher
}

// NewCorrector returns a [Corrector] using the given matcher.
func NewCorrector(m TermMatcher) *Corrector {
	return &Corrector{matcher: m}
}

// Correct aligns transcript words against the lexicon and returns the
// corrected transcript. It is a pure in-process pass and never fails.
//
// The algorithm:
//  1. Tokenise the text into whitespace-separated words.
//  2. Determine the maximum number of words in any lexicon term.
//  3. At each position, try n-gram windows from that maximum down to 1,
//     accepting the longest window the matcher resolves. Multi-word terms
//     ("type 2 diabetes") therefore take precedence over partial single-word
//     matches.
//  4. Advance the cursor by the number of tokens consumed.
func (c *Corrector) Correct(t stt.Transcript, lexicon []string) *Corrected {
	result := &Corrected{
		Original:    t,
		Text:        t.Text,
		Corrections: []Correction{},
	}
	if c.matcher == nil || len(lexicon) == 0 {
		return result
	}

	tokens := strings.Fields(t.Text)
	if len(tokens) == 0 {
		return result
	}

	maxTermWords := maxWordCount(lexicon)

	var output []string
	i := 0
	for i < len(tokens) {
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := c.matcher.Match(window, lexicon)
			if !ok {
				continue
			}
			// An exact (case-insensitive) hit needs no substitution, but
			// still consumes the window so its parts are not re-matched.
			if !strings.EqualFold(window, term) {
				result.Corrections = append(result.Corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
				})
				output = append(output, strings.Fields(term)...)
			} else {
				output = append(output, tokens[i:i+n]...)
			}
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	result.Text = strings.Join(output, " ")
	return result
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any lexicon term. Returns 1 when the lexicon is empty.
func maxWordCount(lexicon []string) int {
	max := 1
	for _, term := range lexicon {
		if n := len(strings.Fields(term)); n > max {
			max = n
		}
	}
	return max
}
