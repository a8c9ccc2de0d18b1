package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cliniscribe/cliniscribe/pkg/audio"
	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

// transcribeFunc runs one batch inference over a complete utterance. The HTTP
// and native backends plug in here; everything else about a session is shared.
type transcribeFunc func(ctx context.Context, pcm []byte) (string, error)

// segmentConfig are the silence-detection parameters of one session.
type segmentConfig struct {
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
}

// withStream overlays the non-zero parts of a StreamConfig.
func (c segmentConfig) withStream(cfg stt.StreamConfig) segmentConfig {
	if cfg.SampleRate > 0 {
		c.sampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		c.channels = cfg.Channels
	} else if c.channels <= 0 {
		c.channels = 1
	}
	return c
}

// session segments incoming PCM into utterances and hands each one to the
// backend's transcribe function. whisper.cpp is a batch engine, so a partial
// and a final with identical text are emitted together once an utterance
// completes; the partial drives the live visit feed while the final feeds
// term correction and field extraction.
//
// The utterance buffer and silence counters are owned by the pump goroutine,
// which keeps the hot path lock-free.
type session struct {
	cfg        segmentConfig
	transcribe transcribeFunc

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// pump-goroutine state
	buf       []byte
	hadSpeech bool
	silenceMs int
}

var _ stt.SessionHandle = (*session)(nil)

// startSession launches the pump goroutine and returns a ready session.
func startSession(ctx context.Context, cfg segmentConfig, fn transcribeFunc) *session {
	s := &session{
		cfg:        cfg,
		transcribe: fn,
		audioCh:    make(chan []byte, 256),
		partials:   make(chan stt.Transcript, 64),
		finals:     make(chan stt.Transcript, 64),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pump(ctx)
	return s
}

// SendAudio queues raw 16-bit little-endian PCM for silence analysis. The
// chunk must match the sample rate and channel count agreed at StartStream.
// Returns an error once the session is closed.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords always fails; whisper.cpp has no keyword-boosting API. Callers
// treat keyword boosts as a best-effort hint, so the session stays usable.
func (s *session) SetKeywords(_ []stt.KeywordBoost) error {
	return fmt.Errorf("whisper: %w", errNotSupported)
}

// Close flushes any buffered speech for one last inference, closes the
// transcript channels, and waits for the pump to exit. Safe to call twice.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) pump(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		select {
		case <-ctx.Done():
			s.finalFlush()
			return

		case <-s.done:
			s.finalFlush()
			return

		case chunk, ok := <-s.audioCh:
			if !ok {
				s.finalFlush()
				return
			}
			s.consume(ctx, chunk)
		}
	}
}

// consume classifies one chunk as speech or silence and advances the
// utterance state machine. Leading silence before any speech is discarded.
func (s *session) consume(ctx context.Context, chunk []byte) {
	if audio.RMS(chunk) < s.cfg.rmsThreshold {
		if !s.hadSpeech {
			return
		}
		s.silenceMs += chunkDurationMs(chunk, s.cfg.sampleRate, s.cfg.channels)
		s.buf = append(s.buf, chunk...)
		if s.silenceMs >= s.cfg.silenceThresholdMs {
			s.flush(ctx)
		}
		return
	}

	s.hadSpeech = true
	s.silenceMs = 0
	s.buf = append(s.buf, chunk...)

	// Cap the buffer during continuous speech; a long monologue still gets
	// transcribed in slices.
	if limit := s.maxBufferBytes(); limit > 0 && len(s.buf) >= limit {
		s.flush(ctx)
	}
}

func (s *session) maxBufferBytes() int {
	bytesPerMs := s.cfg.sampleRate * s.cfg.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	return s.cfg.maxBufferDurationMs * bytesPerMs
}

// flush transcribes the buffered utterance and resets the buffer state
// whether or not inference succeeds.
func (s *session) flush(ctx context.Context) {
	pcm, spoke := s.buf, s.hadSpeech
	s.buf = nil
	s.hadSpeech = false
	s.silenceMs = 0

	if len(pcm) == 0 || !spoke {
		return
	}

	text, err := s.transcribe(ctx, pcm)
	if err != nil {
		slog.Warn("whisper: utterance inference failed", "error", err)
		return
	}
	if text == "" {
		return
	}

	// Channels are buffered; if a consumer stalled during shutdown, skip
	// rather than deadlock.
	select {
	case s.partials <- stt.Transcript{Text: text}:
	default:
	}
	select {
	case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
	default:
	}
}

// finalFlush runs the closing flush on a fresh context; the caller's may
// already be cancelled.
func (s *session) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.flush(ctx)
}

// chunkDurationMs converts a PCM chunk length into milliseconds of audio.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return len(chunk) * 1000 / (sampleRate * channels * (bitsPerSample / 8))
}
