// Package chat implements the patient-context assistant.
//
// The [Assistant] answers free-text questions about a single patient. Each
// request carries a system prompt rendered from the patient's current record,
// so the model answers from the chart rather than from general knowledge.
// Conversation history is kept per patient and trimmed oldest-first when the
// token estimate approaches the model's context window.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cliniscribe/cliniscribe/internal/observe"
	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
)

const (
	defaultTemperature = 0.7

	// defaultReserveTokens is held back from the context window for the
	// model's reply when trimming history.
	defaultReserveTokens = 1024

	// fallbackContextWindow is assumed when the provider reports no window.
	fallbackContextWindow = 8192
)

// ErrEmptyQuestion is returned by [Assistant.Ask] for blank input.
var ErrEmptyQuestion = errors.New("chat: empty question")

const systemPromptTemplate = `You are a clinical assistant answering questions about one patient. The patient's current record follows.

%s

Rules:
- Answer only from the record above and the conversation so far.
- When the record does not contain the answer, say so. Never invent clinical data.
- Keep answers short and factual; this is a tool for the clinician, not the patient.`

// Option is a functional option for configuring an [Assistant].
type Option func(*Assistant)

// WithTemperature sets the LLM sampling temperature. Default: 0.7.
func WithTemperature(temp float64) Option {
	return func(a *Assistant) {
		a.temperature = temp
	}
}

// WithReserveTokens sets how many tokens of the model's context window are
// reserved for the reply when trimming conversation history.
func WithReserveTokens(n int) Option {
	return func(a *Assistant) {
		a.reserveTokens = n
	}
}

// Assistant answers questions about patients using an [llm.Provider].
// It keeps an in-memory conversation history per patient and is safe for
// concurrent use.
type Assistant struct {
	llm           llm.Provider
	temperature   float64
	reserveTokens int

	mu        sync.Mutex
	histories map[int64][]llm.Message
}

// New returns a new [Assistant] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Assistant {
	a := &Assistant{
		llm:           provider,
		temperature:   defaultTemperature,
		reserveTokens: defaultReserveTokens,
		histories:     make(map[int64][]llm.Message),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ask answers question in the context of the patient's record and prior
// conversation. The exchange is appended to the patient's history on success.
func (a *Assistant) Ask(ctx context.Context, rec *record.PatientRecord, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	systemPrompt := buildSystemPrompt(rec)
	userMsg := llm.Message{Role: "user", Content: question}

	a.mu.Lock()
	history := append(a.snapshotLocked(rec.ID), userMsg)
	a.mu.Unlock()

	history = a.trim(systemPrompt, history)

	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  a.temperature,
		Messages:     history,
	})
	observe.DefaultMetrics().ChatDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("chat: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("chat: empty completion")
	}
	answer := strings.TrimSpace(resp.Content)

	a.mu.Lock()
	a.histories[rec.ID] = append(a.histories[rec.ID],
		userMsg,
		llm.Message{Role: "assistant", Content: answer},
	)
	a.mu.Unlock()

	return answer, nil
}

// History returns a copy of the patient's conversation so far.
func (a *Assistant) History(patientID int64) []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(patientID)
}

// Reset discards the patient's conversation history.
func (a *Assistant) Reset(patientID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.histories, patientID)
}

// snapshotLocked copies the patient's history. Caller holds a.mu.
func (a *Assistant) snapshotLocked(patientID int64) []llm.Message {
	stored := a.histories[patientID]
	out := make([]llm.Message, len(stored))
	copy(out, stored)
	return out
}

// trim drops the oldest messages until the token estimate fits the model's
// context window minus the reply reserve. The newest message always survives.
// When the provider cannot count tokens, the history is sent as-is.
func (a *Assistant) trim(systemPrompt string, history []llm.Message) []llm.Message {
	caps := a.llm.Capabilities()
	window := caps.ContextWindow
	if window <= 0 {
		window = fallbackContextWindow
	}
	budget := window - a.reserveTokens
	if budget <= 0 {
		return history[len(history)-1:]
	}

	for len(history) > 1 {
		counted := make([]llm.Message, 0, len(history)+1)
		counted = append(counted, llm.Message{Role: "system", Content: systemPrompt})
		counted = append(counted, history...)

		n, err := a.llm.CountTokens(counted)
		if err != nil || n <= budget {
			break
		}
		history = history[1:]
	}
	return history
}

// buildSystemPrompt renders the patient's record into the system prompt.
// Empty fields are omitted so the model never sees blank labels.
func buildSystemPrompt(rec *record.PatientRecord) string {
	var sb strings.Builder
	writeLine := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteByte('\n')
	}

	writeLine("Name", rec.FullName())
	if rec.Age > 0 {
		writeLine("Age", fmt.Sprintf("%d", rec.Age))
	}
	writeLine("Gender", rec.Gender)
	writeLine("Date of birth", rec.DateOfBirth)
	writeLine("Symptoms", rec.Symptoms)
	writeLine("Vital signs", rec.VitalSigns)
	writeLine("Medications", rec.Medications)
	writeLine("Allergies", rec.Allergies)
	writeLine("Medical history", rec.MedicalHistory)
	writeLine("Family history", rec.FamilyHistory)
	writeLine("Diagnosis", rec.Diagnosis)
	writeLine("Treatment plan", rec.TreatmentPlan)
	writeLine("Follow-up date", rec.FollowUpDate)
	writeLine("Notes", rec.Notes)

	return fmt.Sprintf(systemPromptTemplate, strings.TrimRight(sb.String(), "\n"))
}
