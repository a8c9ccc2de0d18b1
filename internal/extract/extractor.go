// Package extract implements language-model extraction of structured medical
// fields from a visit transcript.
//
// The [Extractor] sends the transcript text to an [llm.Provider] with a
// system prompt that pins the output to the patient record's field
// vocabulary. The model is instructed to return a single JSON object whose
// keys are field names and whose values are the information mentioned in the
// conversation, or null for fields the conversation did not touch.
//
// When the LLM response cannot be parsed, the extractor returns an empty
// [record.ProposedUpdate] rather than surfacing an error: a failed extraction
// must never block the visit pipeline, and the merge engine treats an empty
// proposal as a no-op.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
)

const (
	defaultTemperature = 0.5
)

// systemPromptTemplate pins the model to the record field vocabulary. The
// field list is injected at call time from [record.ExtractableFields] so the
// prompt and the merge engine can never drift apart.
const systemPromptTemplate = `You are a medical scribe assistant. You will receive the transcript of a conversation between a clinician and a patient.

Your task: extract medical information from the transcript into the patient record fields listed below.

Rules:
- Use ONLY these field names as JSON keys:
%s
- For list-style fields (symptoms, medications, allergies, and similar), join multiple items with commas.
- Use null for every field the conversation does not mention. Do NOT guess or infer values.
- Put general observations that fit no other field into "notes".
- Dates use the YYYY-MM-DD format.

Respond with ONLY a JSON object mapping field names to values (no markdown, no prose). If the transcript contains no medical information at all, return an object with every field set to null.`

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithTemperature sets the LLM sampling temperature. Default: 0.5.
func WithTemperature(temp float64) Option {
	return func(e *Extractor) {
		e.temperature = temp
	}
}

// Extractor turns transcript text into a [record.ProposedUpdate] using an
// [llm.Provider]. It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to extract with
// a specific model, construct the [llm.Provider] with that model configured.
type Extractor struct {
	llm         llm.Provider
	temperature float64
}

// New returns a new [Extractor] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract sends the transcript to the LLM and parses the response into a
// [record.ProposedUpdate]. Null and empty values are dropped, as are keys
// outside the field vocabulary, so the result feeds [record.Merge] directly.
//
// When the LLM response is unparseable, Extract returns an empty proposal and
// a nil error, so a bad model response degrades the visit instead of ending it.
// Context cancellation and network errors are returned as non-nil errors.
func (e *Extractor) Extract(ctx context.Context, transcript string) (record.ProposedUpdate, error) {
	if strings.TrimSpace(transcript) == "" {
		return record.ProposedUpdate{}, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(),
		Temperature:  e.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: transcript},
		},
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extract: complete: %w", err)
	}

	proposed, parseErr := parseResponse(resp.Content)
	if parseErr != nil {
		// Unparseable response: empty proposal, no error.
		return record.ProposedUpdate{}, nil //nolint:nilerr // intentional graceful fallback
	}
	return proposed, nil
}

// buildSystemPrompt formats the system prompt template with the field list.
func buildSystemPrompt() string {
	var sb strings.Builder
	for _, f := range record.ExtractableFields() {
		sb.WriteString("  - ")
		sb.WriteString(string(f))
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse unmarshals the LLM output into a proposal. It strips
// markdown code fences and, failing that, retries on the outermost
// brace-delimited span (some models wrap the JSON in prose).
func parseResponse(content string) (record.ProposedUpdate, error) {
	cleaned := stripMarkdown(content)

	raw := map[string]any{}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		inner, ok := braceSpan(cleaned)
		if !ok {
			return nil, fmt.Errorf("extract: parse response: %w", err)
		}
		if err := json.Unmarshal([]byte(inner), &raw); err != nil {
			return nil, fmt.Errorf("extract: parse response: %w", err)
		}
	}

	known := make(map[record.Field]bool, len(record.ExtractableFields()))
	for _, f := range record.ExtractableFields() {
		known[f] = true
	}

	proposed := record.ProposedUpdate{}
	for key, value := range raw {
		field := record.Field(key)
		if !known[field] {
			continue
		}
		text := stringValue(value)
		if text == "" {
			continue
		}
		proposed[field] = text
	}
	return proposed, nil
}

// stringValue renders a JSON value as a proposal string. Nulls become "";
// numbers keep their textual form (ages, vital sign readings).
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// braceSpan returns the substring between the first '{' and the last '}'.
func braceSpan(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
