// Package whisper backs the stt interfaces with whisper.cpp, the offline
// engine clinics run when consultation audio may not leave the building.
//
// Two backends share one session implementation. [Provider] talks to a
// running whisper-server binary over its POST /inference REST endpoint;
// [NativeProvider] links whisper.cpp directly through its Go bindings.
// whisper.cpp is a batch engine, so both simulate streaming: incoming PCM is
// buffered, an energy-based silence detector cuts it into utterances, and
// each utterance is transcribed as one inference call.
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceThresholdMs(500),
//	)
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16; whisper.cpp takes 16-bit signed
	// little-endian PCM.
	bitsPerSample = 16

	// defaultRMSThreshold is the energy floor, in 16-bit PCM units, below
	// which a chunk counts as silence. 300 out of a possible 32767 is
	// near-silence in a quiet exam room.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

// errNotSupported is returned by SetKeywords on both backends; whisper.cpp
// has no keyword-boosting API.
var errNotSupported = errors.New("keyword boosting is not supported by whisper.cpp")

// Option configures a Provider.
type Option func(*Provider)

// WithModel names the model the whisper-server should use ("base.en",
// "small"). Empty, the default, leaves the choice to the server.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code ("en", "de", "fr"). Defaults to
// "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the expected sample rate of incoming PCM in Hz. Buffer
// and silence windows are derived from it. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.segments.sampleRate = rate }
}

// WithSilenceThresholdMs sets how much consecutive silence ends an utterance.
// Shorter values transcribe sooner but can split a sentence in half.
// Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.segments.silenceThresholdMs = ms }
}

// WithRMSThreshold sets the silence energy floor in 16-bit PCM units. Raise
// it for noisy rooms, lower it for soft-spoken dictation. Defaults to 300.
func WithRMSThreshold(threshold float64) Option {
	return func(p *Provider) { p.segments.rmsThreshold = threshold }
}

// WithMaxBufferDurationMs caps how much audio may accumulate before a flush
// is forced regardless of silence, bounding memory during continuous speech.
// Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.segments.maxBufferDurationMs = ms }
}

// Provider implements stt.Provider against a whisper-server HTTP endpoint.
// Sessions are independent; each keeps its own buffer and goroutine.
type Provider struct {
	serverURL  string
	model      string
	language   string
	segments   segmentConfig
	httpClient *http.Client
}

// New creates a Provider for the whisper-server at serverURL, e.g.
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: serverURL,
		language:  defaultLanguage,
		segments: segmentConfig{
			sampleRate:          defaultSampleRate,
			silenceThresholdMs:  defaultSilenceThresholdMs,
			maxBufferDurationMs: defaultMaxBufferDurationMs,
			rmsThreshold:        defaultRMSThreshold,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session. Zero or empty StreamConfig
// fields fall back to the provider defaults. No network connection is made
// until the first utterance completes, so the only error here is a context
// that is already cancelled.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	seg := p.segments.withStream(cfg)
	return startSession(ctx, seg, func(fctx context.Context, pcm []byte) (string, error) {
		return p.infer(fctx, pcm, lang, seg.sampleRate, seg.channels)
	}), nil
}

// infer wraps pcm in a WAV container and POSTs it to /inference as
// multipart/form-data.
func (p *Provider) infer(ctx context.Context, pcm []byte, lang string, sampleRate, channels int) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, sampleRate, channels)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// encodeWAV prefixes raw PCM with a RIFF/WAV header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM sub-chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)

	return buf
}
