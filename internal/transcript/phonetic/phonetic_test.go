package phonetic_test

import (
	"testing"

	"github.com/cliniscribe/cliniscribe/internal/transcript/phonetic"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	lexicon := []string{"Metformin", "Aspirin", "Lisinopril", "Rheumatoid Arthritis"}

	tests := []struct {
		name          string
		word          string
		wantCorrected string
		minConfidence float64
	}{
		// "metformen" shares its Double Metaphone code with "metformin".
		{"phonetic neighbour", "metformen", "Metformin", 0.7},
		// STT often splits a drug name across words; the concatenated
		// comparison recovers it.
		{"split word", "met forming", "Metformin", 0.7},
		{"multi-word term", "rheumatoid arthritus", "Rheumatoid Arthritis", 0.7},
		{"exact word", "aspirin", "Aspirin", 0.9},
		// The lexicon's casing wins over the transcript's.
		{"case insensitive", "LISINOPRIL", "Lisinopril", 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			corrected, conf, matched := phonetic.New().Match(tt.word, lexicon)
			if !matched {
				t.Fatalf("Match(%q) matched = false, want true", tt.word)
			}
			if corrected != tt.wantCorrected {
				t.Errorf("corrected = %q, want %q", corrected, tt.wantCorrected)
			}
			if conf < tt.minConfidence {
				t.Errorf("confidence = %f, want >= %f", conf, tt.minConfidence)
			}
		})
	}
}

func TestMatcher_NoMatchReturnsOriginal(t *testing.T) {
	t.Parallel()

	corrected, conf, matched := phonetic.New().Match("hello", []string{"Metformin", "Aspirin"})
	if matched {
		t.Fatal("Match matched an unrelated word")
	}
	if corrected != "hello" {
		t.Errorf("corrected = %q, want the original word", corrected)
	}
	if conf != 0 {
		t.Errorf("confidence = %f, want 0", conf)
	}
}

func TestMatcher_ThresholdsRejectNearMatches(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, matched := m.Match("met forming", []string{"Metformin"}); matched {
		t.Fatal("threshold 0.99 accepted a near-match")
	}
}

func TestMatcher_DegenerateInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	if corrected, conf, matched := m.Match("metformin", nil); matched || corrected != "metformin" || conf != 0 {
		t.Errorf("nil lexicon: got (%q, %f, %t), want original word unmatched", corrected, conf, matched)
	}
	if corrected, conf, matched := m.Match("", []string{"Metformin"}); matched || corrected != "" || conf != 0 {
		t.Errorf("empty word: got (%q, %f, %t), want empty unmatched", corrected, conf, matched)
	}
	if corrected, _, matched := m.Match("   ", []string{"Metformin"}); matched || corrected != "   " {
		t.Errorf("blank word: got (%q, %t), want original unmatched", corrected, matched)
	}
}
