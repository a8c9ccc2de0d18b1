package resilience

import (
	"context"

	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across LLM backends.
// Field extraction and patient chat both ride through it: when the configured
// cloud model fails mid-visit, the group moves to the next healthy backend
// (typically a local Ollama model) instead of surfacing the error.
//
// The embedded group promotes [FallbackGroup.AddFallback] for registration.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	cfg.Kind = "llm"
	return &LLMFallback{FallbackGroup: NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete runs the request against the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a completion stream against the first healthy
// backend. Failover covers establishing the stream only; a stream that dies
// mid-response surfaces its error to the reader.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens counts with the first healthy backend's tokenizer. Counts may
// differ slightly across backends; callers use them for budget checks only.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata, so it
// does not participate in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if p, ok := f.Primary(); ok {
		return p.Capabilities()
	}
	return llm.ModelCapabilities{}
}
