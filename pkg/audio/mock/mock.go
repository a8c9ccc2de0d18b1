// Package mock provides an in-memory implementation of [audio.Source] for
// use in unit tests.
//
// The mock records every method call so that tests can assert on call counts,
// and exposes the frame channel directly so tests control exactly which
// frames the consumer receives.
//
// Typical usage:
//
//	src := mock.NewSource(
//	    audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1},
//	)
//	frames, _ := src.Start(ctx)
//	for f := range frames { ... }
package mock

import (
	"context"
	"sync"

	"github.com/cliniscribe/cliniscribe/pkg/audio"
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// Source is a mock implementation of [audio.Source]. Frames queued via
// NewSource or the Frames field are emitted in order once Start is called,
// then the channel is closed (unless HoldOpen is set).
type Source struct {
	mu sync.Mutex

	// Frames are the frames to emit, in order.
	Frames []audio.Frame

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// HoldOpen keeps the frame channel open after all queued frames have
	// been sent. The channel then closes on Close or context cancellation.
	HoldOpen bool

	// StartCallCount is the number of times Start was called.
	StartCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	done     chan struct{}
	doneOnce sync.Once
}

// NewSource returns a Source that will emit the given frames.
func NewSource(frames ...audio.Frame) *Source {
	return &Source{Frames: frames, done: make(chan struct{})}
}

// Start implements [audio.Source]. It emits the queued frames on the
// returned channel.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	s.StartCallCount++
	if s.done == nil {
		s.done = make(chan struct{})
	}
	err := s.StartErr
	queued := make([]audio.Frame, len(s.Frames))
	copy(queued, s.Frames)
	hold := s.HoldOpen
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan audio.Frame, len(queued))
	go func() {
		defer close(out)
		for _, f := range queued {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		if hold {
			select {
			case <-ctx.Done():
			case <-s.done:
			}
		}
	}()
	return out, nil
}

// Close implements [audio.Source]. It records the call and releases any
// held-open frame channel.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.doneOnce.Do(func() {
		if s.done != nil {
			close(s.done)
		}
	})
	return nil
}
