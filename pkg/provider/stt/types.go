package stt

import "time"

// Transcript is one speech-to-text result, partial or final. Partials drive
// the live visit feed; finals feed term correction and field extraction.
type Transcript struct {
	Text string

	// IsFinal distinguishes authoritative transcripts from interim ones.
	IsFinal bool

	// Confidence is the overall score in [0, 1]. Zero when the provider
	// reports none.
	Confidence float64

	// Words carries per-word detail for providers that emit it; nil
	// otherwise.
	Words []WordDetail

	// SpeakerID distinguishes clinician from patient when diarization is
	// active.
	SpeakerID string

	// Timestamp is the utterance start relative to session start; Duration
	// is its length.
	Timestamp time.Duration
	Duration  time.Duration
}

// WordDetail is per-word timing and confidence metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost asks the recognizer to favour one term, typically clinical
// vocabulary the patient record already carries: drug names, diagnoses,
// allergy triggers.
type KeywordBoost struct {
	// Keyword is the text to boost, e.g. "Lisinopril".
	Keyword string

	// Boost is the intensity on the provider's own scale.
	Boost float64
}
