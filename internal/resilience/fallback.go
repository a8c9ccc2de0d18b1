package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cliniscribe/cliniscribe/internal/observe"
)

// ErrAllFailed is returned when every provider in a [FallbackGroup] fails or
// has an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the breaker template applied per provider; each entry
	// gets its own breaker named after it.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels the provider kind ("llm", "stt") on request and error
	// metrics.
	Kind string
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and ordered fallbacks of the same
// type. A visit keeps going when the primary cloud endpoint is down: the
// group tries the next healthy entry, skipping any whose breaker is open.
//
// Safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first entry. Register
// fallbacks with [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider, tried after the primary in
// registration order.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the first registered provider, or false when the group is
// empty.
func (fg *FallbackGroup[T]) Primary() (T, bool) {
	if len(fg.entries) == 0 {
		var zero T
		return zero, false
	}
	return fg.entries[0].value, true
}

// Execute tries fn against each entry in order until one succeeds. Returns
// [ErrAllFailed] wrapped with the last error when every entry fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry until one succeeds, returning
// its result. A package-level function because Go has no method-level type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.observeAttempt(entry.name, nil)
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			fg.observeAttempt(entry.name, err)
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// observeAttempt records request and error metrics for one provider call.
// Circuit-open skips never reach here; no request was made.
func (fg *FallbackGroup[T]) observeAttempt(name string, err error) {
	kind := fg.cfg.Kind
	if kind == "" {
		kind = "unknown"
	}
	met := observe.DefaultMetrics()
	ctx := context.Background()
	if err == nil {
		met.RecordProviderRequest(ctx, name, kind, "success")
		return
	}
	met.RecordProviderRequest(ctx, name, kind, "error")
	met.RecordProviderError(ctx, name, kind)
}
