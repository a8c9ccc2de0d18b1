// Package mock provides a test double for the llm.Provider interface. Tests
// queue canned responses, inject errors, and inspect the recorded calls
// afterwards, all without a live LLM backend:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"symptoms": "Fever"}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
)

// StreamCall records one StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider implements llm.Provider with scripted behaviour. Zero-value
// response fields make methods return zero values and nil errors. Configure
// fields before first use; mutating them mid-call is the test's problem.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted in order on the channel StreamCompletion
	// returns, which closes after the last chunk. StreamErr, when non-nil,
	// fails the call before any channel is opened.
	StreamChunks []llm.Chunk
	StreamErr    error

	// CompleteResponses, when non-empty, is consumed one entry per Complete
	// call before CompleteResponse becomes the standing answer. The queue
	// lets one provider drive several LLM stages in a single test.
	CompleteResponses []*llm.CompletionResponse
	CompleteResponse  *llm.CompletionResponse
	CompleteErr       error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities llm.ModelCapabilities

	// Call records, in order, for the test to read afterwards.
	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if len(p.CompleteResponses) > 0 {
		resp := p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
		return resp, p.CompleteErr
	}
	return p.CompleteResponse, p.CompleteErr
}

func (p *Provider) CountTokens(_ []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
