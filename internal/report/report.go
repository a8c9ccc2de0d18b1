// Package report builds the end-of-visit report.
//
// A [Report] snapshots the patient's chart after the merge, the corrected
// transcript, the per-field change summary, and an LLM-written visit summary.
// [Generator.Generate] degrades gracefully: when the summariser fails, the
// report carries a deterministic fallback summary instead of blocking the
// visit pipeline.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
)

// summaryPrompt is the system prompt sent to the LLM when summarising a visit.
const summaryPrompt = `Summarise the following clinical visit transcript for the patient's chart.
Preserve: reported symptoms, medication changes, diagnoses discussed, instructions given
to the patient, and agreed follow-up. Write 3-5 plain sentences in the past tense.
Do not invent information that is not in the transcript.`

// Visit carries everything known about a finished recording session.
type Visit struct {
	// Record is the patient's chart after the merge was applied.
	Record *record.PatientRecord

	// Transcript is the corrected visit transcript.
	Transcript string

	// Changes is the merge engine's per-field change summary.
	Changes record.ChangeSummary

	// VisitedAt is when the visit took place.
	VisitedAt time.Time
}

// Report is the rendered-ready visit report model.
type Report struct {
	PatientID   int64
	PatientName string
	VisitedAt   time.Time
	Transcript  string
	Changes     record.ChangeSummary
	Summary     string
	Record      *record.PatientRecord
}

// Summariser produces a concise summary of a visit transcript.
type Summariser interface {
	// Summarise condenses the transcript into chart-ready prose.
	Summarise(ctx context.Context, transcript string) (string, error)
}

// LLMSummariser uses an LLM provider to summarise visits.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates an [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise sends the transcript to the LLM with the summary prompt and
// returns the summary text. An empty transcript summarises to "".
func (s *LLMSummariser) Summarise(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: transcript},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("report: summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Generator assembles [Report] values. A nil summariser skips the LLM summary
// entirely and always uses the fallback.
type Generator struct {
	summariser Summariser
}

// NewGenerator creates a Generator. summariser may be nil.
func NewGenerator(summariser Summariser) *Generator {
	return &Generator{summariser: summariser}
}

// Generate builds the report for a visit. Summariser failures are absorbed:
// the report then carries a summary derived from the change summary alone, so
// a broken LLM backend never loses a finished visit.
func (g *Generator) Generate(ctx context.Context, visit Visit) *Report {
	r := &Report{
		VisitedAt:  visit.VisitedAt,
		Transcript: visit.Transcript,
		Changes:    visit.Changes,
		Record:     visit.Record,
	}
	if visit.Record != nil {
		r.PatientID = visit.Record.ID
		r.PatientName = visit.Record.FullName()
	}

	if g.summariser != nil {
		if summary, err := g.summariser.Summarise(ctx, visit.Transcript); err == nil && summary != "" {
			r.Summary = summary
			return r
		}
	}
	r.Summary = fallbackSummary(visit.Changes)
	return r
}

// fallbackSummary renders the change summary as prose when no LLM summary is
// available.
func fallbackSummary(changes record.ChangeSummary) string {
	if len(changes) == 0 {
		return "Visit recorded. No record changes."
	}
	return "Visit recorded. Record changes: " + changes.String() + "."
}
