package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
	llmmock "github.com/cliniscribe/cliniscribe/pkg/provider/llm/mock"
)

func testRecord() *record.PatientRecord {
	return &record.PatientRecord{
		ID:          7,
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Age:         36,
		Gender:      "female",
		Medications: "Metformin, Lisinopril",
		Allergies:   "Penicillin",
		Diagnosis:   "Type 2 Diabetes",
	}
}

func TestAsk(t *testing.T) {
	t.Parallel()

	t.Run("answers with record context", func(t *testing.T) {
		t.Parallel()

		p := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "She takes Metformin and Lisinopril."},
		}
		a := New(p)

		answer, err := a.Ask(context.Background(), testRecord(), "What medications is she on?")
		if err != nil {
			t.Fatalf("Ask() unexpected error: %v", err)
		}
		if !strings.Contains(answer, "Metformin") {
			t.Errorf("answer = %q, want medication mention", answer)
		}

		if len(p.CompleteCalls) != 1 {
			t.Fatalf("provider called %d times, want 1", len(p.CompleteCalls))
		}
		req := p.CompleteCalls[0].Req
		if !strings.Contains(req.SystemPrompt, "Ada Lovelace") {
			t.Error("system prompt should carry the patient name")
		}
		if !strings.Contains(req.SystemPrompt, "Metformin, Lisinopril") {
			t.Error("system prompt should carry the medication list")
		}
		if strings.Contains(req.SystemPrompt, "Vital signs") {
			t.Error("system prompt should omit empty fields")
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v, want single user message", req.Messages)
		}
	})

	t.Run("keeps per-patient history", func(t *testing.T) {
		t.Parallel()

		p := &llmmock.Provider{
			CompleteResponses: []*llm.CompletionResponse{
				{Content: "first answer"},
				{Content: "second answer"},
			},
		}
		a := New(p)
		rec := testRecord()

		if _, err := a.Ask(context.Background(), rec, "first question"); err != nil {
			t.Fatalf("first Ask(): %v", err)
		}
		if _, err := a.Ask(context.Background(), rec, "second question"); err != nil {
			t.Fatalf("second Ask(): %v", err)
		}

		// Second request carries the earlier exchange plus the new question.
		second := p.CompleteCalls[1].Req.Messages
		if len(second) != 3 {
			t.Fatalf("second request has %d messages, want 3", len(second))
		}
		if second[0].Content != "first question" || second[1].Content != "first answer" {
			t.Errorf("history not replayed: %+v", second)
		}

		hist := a.History(rec.ID)
		if len(hist) != 4 {
			t.Errorf("stored history has %d messages, want 4", len(hist))
		}
		if got := a.History(99); len(got) != 0 {
			t.Errorf("unrelated patient history = %v, want empty", got)
		}
	})

	t.Run("empty question", func(t *testing.T) {
		t.Parallel()

		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "x"}}
		a := New(p)

		_, err := a.Ask(context.Background(), testRecord(), "   ")
		if !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("error = %v, want ErrEmptyQuestion", err)
		}
		if len(p.CompleteCalls) != 0 {
			t.Error("blank question must not reach the provider")
		}
	})

	t.Run("provider error leaves history untouched", func(t *testing.T) {
		t.Parallel()

		p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
		a := New(p)
		rec := testRecord()

		_, err := a.Ask(context.Background(), rec, "question")
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if len(a.History(rec.ID)) != 0 {
			t.Error("failed exchange must not be recorded")
		}
	})

	t.Run("empty completion is an error", func(t *testing.T) {
		t.Parallel()

		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}
		a := New(p)

		_, err := a.Ask(context.Background(), testRecord(), "question")
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestTrim(t *testing.T) {
	t.Parallel()

	t.Run("over budget drops oldest first", func(t *testing.T) {
		t.Parallel()

		// Every CountTokens estimate exceeds the budget, so trimming runs
		// until only the newest message remains.
		p := &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "answer"},
			TokenCount:        10_000,
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 4096},
		}
		a := New(p)
		rec := testRecord()

		for _, q := range []string{"q1", "q2", "q3"} {
			if _, err := a.Ask(context.Background(), rec, q); err != nil {
				t.Fatalf("Ask(%q): %v", q, err)
			}
		}

		last := p.CompleteCalls[2].Req.Messages
		if len(last) != 1 {
			t.Fatalf("trimmed request has %d messages, want 1", len(last))
		}
		if last[0].Content != "q3" {
			t.Errorf("surviving message = %q, want the newest question", last[0].Content)
		}
	})

	t.Run("within budget keeps everything", func(t *testing.T) {
		t.Parallel()

		p := &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "answer"},
			TokenCount:        100,
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8192},
		}
		a := New(p)
		rec := testRecord()

		for _, q := range []string{"q1", "q2"} {
			if _, err := a.Ask(context.Background(), rec, q); err != nil {
				t.Fatalf("Ask(%q): %v", q, err)
			}
		}

		last := p.CompleteCalls[1].Req.Messages
		if len(last) != 3 {
			t.Errorf("request has %d messages, want full history of 3", len(last))
		}
	})

	t.Run("count error sends history as-is", func(t *testing.T) {
		t.Parallel()

		p := &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "answer"},
			CountTokensErr:    errors.New("no tokenizer"),
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 4096},
		}
		a := New(p)
		rec := testRecord()

		for _, q := range []string{"q1", "q2"} {
			if _, err := a.Ask(context.Background(), rec, q); err != nil {
				t.Fatalf("Ask(%q): %v", q, err)
			}
		}
		if len(p.CompleteCalls[1].Req.Messages) != 3 {
			t.Error("token-count failure must not trim history")
		}
	})
}

func TestReset(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "answer"}}
	a := New(p)
	rec := testRecord()

	if _, err := a.Ask(context.Background(), rec, "question"); err != nil {
		t.Fatalf("Ask(): %v", err)
	}
	a.Reset(rec.ID)
	if got := a.History(rec.ID); len(got) != 0 {
		t.Errorf("history after Reset = %v, want empty", got)
	}
}
