// NativeProvider runs whisper.cpp in-process through its CGO bindings. The
// static library (libwhisper.a) and whisper.h must be visible at link time
// via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider on the whisper.cpp Go bindings,
// skipping HTTP entirely. The model loads once and is shared by every
// session; each session gets its own whisper context, so sessions can run
// concurrently.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	segments segmentConfig
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the expected PCM sample rate in Hz. Defaults to
// 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.segments.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets how much consecutive silence ends an
// utterance. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.segments.silenceThresholdMs = ms }
}

// WithNativeRMSThreshold sets the silence energy floor. Defaults to 300.
func WithNativeRMSThreshold(threshold float64) NativeOption {
	return func(p *NativeProvider) { p.segments.rmsThreshold = threshold }
}

// WithNativeMaxBufferDurationMs caps buffered audio before a forced flush.
// Defaults to 10 s.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.segments.maxBufferDurationMs = ms }
}

// NewNative loads the whisper.cpp model at modelPath. Call Close when the
// provider is no longer needed to release the model.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		segments: segmentConfig{
			sampleRate:          defaultSampleRate,
			silenceThresholdMs:  defaultSilenceThresholdMs,
			maxBufferDurationMs: defaultMaxBufferDurationMs,
			rmsThreshold:        defaultRMSThreshold,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a transcription session. Zero or empty StreamConfig
// fields fall back to the provider defaults.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	seg := p.segments.withStream(cfg)
	return startSession(ctx, seg, func(_ context.Context, pcm []byte) (string, error) {
		return p.infer(pcm, lang, seg.channels)
	}), nil
}

// infer downmixes the utterance to float32 mono and runs it through a fresh
// whisper context. Contexts are not thread-safe; the shared model is.
func (p *NativeProvider) infer(pcm []byte, lang string, channels int) (string, error) {
	samples := monoSamples(pcm, channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
