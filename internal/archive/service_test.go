package archive_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cliniscribe/cliniscribe/internal/archive"
	embmock "github.com/cliniscribe/cliniscribe/pkg/provider/embeddings/mock"
)

// stubIndex is an in-test archive.Index that records calls and returns
// canned responses.
type stubIndex struct {
	added   []archive.VisitEntry
	addErr  error
	results []archive.Result
	srchErr error

	gotEmbedding []float32
	gotTopK      int
	gotFilter    archive.Filter

	visits    []archive.VisitEntry
	visitsErr error
	gotLimit  int
}

func (s *stubIndex) Add(_ context.Context, entry archive.VisitEntry) error {
	s.added = append(s.added, entry)
	return s.addErr
}

func (s *stubIndex) Search(_ context.Context, embedding []float32, topK int, filter archive.Filter) ([]archive.Result, error) {
	s.gotEmbedding = embedding
	s.gotTopK = topK
	s.gotFilter = filter
	return s.results, s.srchErr
}

func (s *stubIndex) Visits(_ context.Context, _ int64, limit int) ([]archive.VisitEntry, error) {
	s.gotLimit = limit
	return s.visits, s.visitsErr
}

func TestArchiveVisit(t *testing.T) {
	t.Parallel()

	recordedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	vec := []float32{0.1, 0.2, 0.3}

	t.Run("stores embedded entry", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{}
		emb := &embmock.Provider{EmbedResult: vec}
		svc := archive.NewService(idx, emb)

		entry, err := svc.ArchiveVisit(context.Background(), 42,
			"patient reports improved sleep since starting Sertraline",
			"added new items: Sertraline", recordedAt)
		if err != nil {
			t.Fatalf("ArchiveVisit() unexpected error: %v", err)
		}

		if _, err := uuid.Parse(entry.ID); err != nil {
			t.Errorf("entry ID %q is not a valid UUID: %v", entry.ID, err)
		}
		if entry.PatientID != 42 {
			t.Errorf("PatientID = %d, want 42", entry.PatientID)
		}
		if !entry.RecordedAt.Equal(recordedAt) {
			t.Errorf("RecordedAt = %v, want %v", entry.RecordedAt, recordedAt)
		}
		if len(entry.Embedding) != len(vec) {
			t.Errorf("Embedding length = %d, want %d", len(entry.Embedding), len(vec))
		}

		if len(idx.added) != 1 {
			t.Fatalf("index received %d entries, want 1", len(idx.added))
		}
		if idx.added[0].ID != entry.ID {
			t.Errorf("stored ID = %q, want %q", idx.added[0].ID, entry.ID)
		}
		if len(emb.EmbedCalls) != 1 {
			t.Fatalf("embedder called %d times, want 1", len(emb.EmbedCalls))
		}
		if !strings.Contains(emb.EmbedCalls[0].Text, "Sertraline") {
			t.Errorf("embedded text = %q, want the transcript", emb.EmbedCalls[0].Text)
		}
	})

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{}
		emb := &embmock.Provider{EmbedResult: vec}
		svc := archive.NewService(idx, emb)

		_, err := svc.ArchiveVisit(context.Background(), 42, "   \n", "", recordedAt)
		if !errors.Is(err, archive.ErrEmptyTranscript) {
			t.Errorf("error = %v, want ErrEmptyTranscript", err)
		}
		if len(idx.added) != 0 {
			t.Error("empty transcript must not reach the index")
		}
		if len(emb.EmbedCalls) != 0 {
			t.Error("empty transcript must not be embedded")
		}
	})

	t.Run("embed error", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{}
		emb := &embmock.Provider{EmbedErr: errors.New("model unavailable")}
		svc := archive.NewService(idx, emb)

		_, err := svc.ArchiveVisit(context.Background(), 42, "some transcript", "", recordedAt)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "embed transcript") {
			t.Errorf("error = %q, want embed transcript wrap", err.Error())
		}
		if len(idx.added) != 0 {
			t.Error("failed embed must not reach the index")
		}
	})

	t.Run("store error", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{addErr: errors.New("connection lost")}
		emb := &embmock.Provider{EmbedResult: vec}
		svc := archive.NewService(idx, emb)

		_, err := svc.ArchiveVisit(context.Background(), 42, "some transcript", "", recordedAt)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "store entry") {
			t.Errorf("error = %q, want store entry wrap", err.Error())
		}
	})
}

func TestSearchVisits(t *testing.T) {
	t.Parallel()

	vec := []float32{0.4, 0.5}

	t.Run("scopes to patient with default topK", func(t *testing.T) {
		t.Parallel()

		want := []archive.Result{{Entry: archive.VisitEntry{ID: "a"}, Distance: 0.12}}
		idx := &stubIndex{results: want}
		emb := &embmock.Provider{EmbedResult: vec}
		svc := archive.NewService(idx, emb)

		got, err := svc.SearchVisits(context.Background(), 7, "blood pressure discussion", 0)
		if err != nil {
			t.Fatalf("SearchVisits() unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Entry.ID != "a" {
			t.Errorf("results = %+v, want %+v", got, want)
		}
		if idx.gotTopK != archive.DefaultTopK {
			t.Errorf("topK = %d, want DefaultTopK %d", idx.gotTopK, archive.DefaultTopK)
		}
		if idx.gotFilter.PatientID != 7 {
			t.Errorf("filter patient = %d, want 7", idx.gotFilter.PatientID)
		}
		if len(idx.gotEmbedding) != len(vec) {
			t.Errorf("search embedding length = %d, want %d", len(idx.gotEmbedding), len(vec))
		}
	})

	t.Run("empty query skips embedder", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{}
		emb := &embmock.Provider{EmbedResult: vec}
		svc := archive.NewService(idx, emb)

		got, err := svc.SearchVisits(context.Background(), 7, "  ", 3)
		if err != nil {
			t.Fatalf("SearchVisits() unexpected error: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("results = %v, want empty non-nil slice", got)
		}
		if len(emb.EmbedCalls) != 0 {
			t.Error("empty query must not be embedded")
		}
	})

	t.Run("embed error", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{}
		emb := &embmock.Provider{EmbedErr: errors.New("timeout")}
		svc := archive.NewService(idx, emb)

		_, err := svc.SearchVisits(context.Background(), 7, "headache", 3)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "embed query") {
			t.Errorf("error = %q, want embed query wrap", err.Error())
		}
	})

	t.Run("index error", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{srchErr: errors.New("bad index")}
		emb := &embmock.Provider{EmbedResult: vec}
		svc := archive.NewService(idx, emb)

		_, err := svc.SearchVisits(context.Background(), 7, "headache", 3)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestRecentVisits(t *testing.T) {
	t.Parallel()

	t.Run("passes through", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{visits: []archive.VisitEntry{{ID: "v1"}, {ID: "v2"}}}
		svc := archive.NewService(idx, &embmock.Provider{})

		got, err := svc.RecentVisits(context.Background(), 7, 10)
		if err != nil {
			t.Fatalf("RecentVisits() unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d entries, want 2", len(got))
		}
		if idx.gotLimit != 10 {
			t.Errorf("limit = %d, want 10", idx.gotLimit)
		}
	})

	t.Run("index error", func(t *testing.T) {
		t.Parallel()

		idx := &stubIndex{visitsErr: errors.New("down")}
		svc := archive.NewService(idx, &embmock.Provider{})

		_, err := svc.RecentVisits(context.Background(), 7, 10)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}
