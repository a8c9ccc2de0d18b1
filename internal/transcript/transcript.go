// Package transcript corrects STT errors in medical vocabulary.
//
// Raw speech-to-text output is rarely perfect for clinical terms: drug
// names, allergy triggers, and diagnoses are frequently misheard ("metformin"
// comes back as "met forming", "lisinopril" as "lice in a prill"). The
// [Corrector] aligns transcript words against the patient's known term
// lexicon using phonetic matching, so the extraction stage sees the
// canonical spellings already present in the record.
//
// Each [Correction] records the substitution and its confidence, so callers
// can audit or display the changes.
package transcript

import (
	"strings"

	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

// Correction captures a single word-level substitution made by the corrector.
type Correction struct {
	// Original is the word (or phrase) as produced by the STT provider.
	Original string

	// Corrected is the canonical term that replaced it.
	Corrected string

	// Confidence is the matcher's confidence in this substitution (0.0–1.0).
	Confidence float64
}

// Corrected is the output of a [Corrector.Correct] call. It pairs the
// original [stt.Transcript] with the corrected text and an itemised record
// of every substitution that was applied.
type Corrected struct {
	// Original is the raw transcript as received from the STT provider.
	Original stt.Transcript

	// Text is the full corrected transcript text with all substitutions
	// applied.
	Text string

	// Corrections is the ordered list of substitutions applied to produce
	// Text. Empty (non-nil) when no corrections were necessary.
	Corrections []Correction
}

// TermMatcher resolves a word or short phrase to a known medical term based
// on pronunciation similarity. Implementations must be fast enough to run
// between STT finals (no network calls) and safe for concurrent use.
type TermMatcher interface {
	// Match attempts to find the term from lexicon that is most phonetically
	// similar to word, returning that term, a similarity score in [0.0, 1.0],
	// and whether a sufficiently similar term was found.
	//
	// When matched is false, corrected must equal word unchanged and
	// confidence must be 0.
	Match(word string, lexicon []string) (corrected string, confidence float64, matched bool)
}

// lexiconFields are the record columns whose items form the correction
// lexicon. Notes and vital signs are free text, not term collections.
var lexiconFields = []record.Field{
	record.FieldMedications,
	record.FieldAllergies,
	record.FieldDiagnosis,
	record.FieldSymptoms,
	record.FieldMedicalHistory,
	record.FieldFamilyHistory,
	record.FieldTreatmentPlan,
}

// Lexicon collects the known medical terms from a patient record: every item
// of its term-list columns, deduplicated case-insensitively, in column then
// item order. A nil record yields an empty lexicon.
func Lexicon(r *record.PatientRecord) []string {
	if r == nil {
		return nil
	}
	seen := map[string]bool{}
	var terms []string
	for _, field := range lexiconFields {
		for _, item := range record.ListItems(r.Value(field)) {
			key := strings.ToLower(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			terms = append(terms, item)
		}
	}
	return terms
}
