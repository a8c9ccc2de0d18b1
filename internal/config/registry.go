package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cliniscribe/cliniscribe/pkg/provider/embeddings"
	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps the provider names that appear in the config file to factory
// functions for each provider kind. main registers the built-in backends at
// startup; Create* turns a config entry into a live provider.
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name. Re-registering a
// name overwrites the previous factory.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a transcription provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM builds the LLM provider entry.Name refers to.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory := r.llm[entry.Name]
	r.mu.RUnlock()
	return create("llm", entry, factory)
}

// CreateSTT builds the transcription provider entry.Name refers to.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory := r.stt[entry.Name]
	r.mu.RUnlock()
	return create("stt", entry, factory)
}

// CreateEmbeddings builds the embeddings provider entry.Name refers to.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory := r.embeddings[entry.Name]
	r.mu.RUnlock()
	return create("embeddings", entry, factory)
}

func create[T any](kind string, entry ProviderEntry, factory func(ProviderEntry) (T, error)) (T, error) {
	if factory == nil {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
