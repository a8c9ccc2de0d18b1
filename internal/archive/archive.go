// Package archive stores finished visit transcripts and supports semantic
// search over them.
//
// Each archived visit pairs the corrected transcript (and an optional summary)
// with an embedding vector, so past visits can be retrieved by meaning rather
// than keyword ("when did we last discuss her blood pressure?"). The Index
// interface abstracts the vector store; the PostgreSQL implementation lives in
// the postgres subpackage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cliniscribe/cliniscribe/internal/observe"
	"github.com/cliniscribe/cliniscribe/pkg/provider/embeddings"
)

// DefaultTopK is the number of results returned by [Service.SearchVisits]
// when the caller does not specify a limit.
const DefaultTopK = 5

// ErrEmptyTranscript is returned by [Service.ArchiveVisit] when the transcript
// contains no text worth archiving.
var ErrEmptyTranscript = errors.New("archive: empty transcript")

// VisitEntry is one archived visit.
type VisitEntry struct {
	// ID is a UUID assigned when the entry is archived.
	ID string
	// PatientID links the entry to a patient record.
	PatientID int64
	// Transcript is the full corrected transcript of the visit.
	Transcript string
	// Summary is the human-readable change summary produced for the visit.
	// May be empty for visits that changed nothing.
	Summary string
	// Embedding is the vector representation of Transcript.
	Embedding []float32
	// RecordedAt is when the visit took place.
	RecordedAt time.Time
}

// Result pairs an entry with its cosine distance to a search query.
// Smaller distance means more similar.
type Result struct {
	Entry    VisitEntry
	Distance float64
}

// Filter narrows a semantic search. Zero values mean "no constraint".
type Filter struct {
	PatientID int64
	After     time.Time
	Before    time.Time
}

// Index persists visit entries and answers nearest-neighbour queries over
// their embeddings.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// Add upserts an entry. An entry with an existing ID is replaced.
	Add(ctx context.Context, entry VisitEntry) error

	// Search returns the topK entries closest to embedding by cosine
	// distance, most similar first, optionally narrowed by filter.
	Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Result, error)

	// Visits returns up to limit entries for a patient, most recent first.
	Visits(ctx context.Context, patientID int64, limit int) ([]VisitEntry, error)
}

// Service embeds visit transcripts and archives them in an [Index].
type Service struct {
	index    Index
	embedder embeddings.Provider
}

// NewService creates a Service writing to index using embedder for vectors.
func NewService(index Index, embedder embeddings.Provider) *Service {
	return &Service{index: index, embedder: embedder}
}

// ArchiveVisit embeds transcript and stores a new entry for the patient.
// summary may be empty. The stored entry, including its generated ID, is
// returned.
func (s *Service) ArchiveVisit(ctx context.Context, patientID int64, transcript, summary string, recordedAt time.Time) (VisitEntry, error) {
	if strings.TrimSpace(transcript) == "" {
		return VisitEntry{}, ErrEmptyTranscript
	}

	vec, err := s.embed(ctx, transcript)
	if err != nil {
		return VisitEntry{}, fmt.Errorf("archive: embed transcript: %w", err)
	}

	entry := VisitEntry{
		ID:         uuid.NewString(),
		PatientID:  patientID,
		Transcript: transcript,
		Summary:    summary,
		Embedding:  vec,
		RecordedAt: recordedAt,
	}
	if err := s.index.Add(ctx, entry); err != nil {
		return VisitEntry{}, fmt.Errorf("archive: store entry: %w", err)
	}
	return entry, nil
}

// embed produces the vector for text and records the embedding latency.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	observe.DefaultMetrics().EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	return vec, err
}

// SearchVisits embeds query and returns the patient's most similar archived
// visits. A topK of zero or less uses [DefaultTopK]. An empty query returns
// an empty result without calling the embedder.
func (s *Service) SearchVisits(ctx context.Context, patientID int64, query string, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("archive: embed query: %w", err)
	}

	results, err := s.index.Search(ctx, vec, topK, Filter{PatientID: patientID})
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	return results, nil
}

// RecentVisits returns up to limit of the patient's archived visits, most
// recent first.
func (s *Service) RecentVisits(ctx context.Context, patientID int64, limit int) ([]VisitEntry, error) {
	entries, err := s.index.Visits(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: recent visits: %w", err)
	}
	return entries, nil
}
