package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cliniscribe/cliniscribe/internal/app"
	"github.com/cliniscribe/cliniscribe/internal/archive"
	"github.com/cliniscribe/cliniscribe/internal/config"
	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/pkg/audio"
	audiomock "github.com/cliniscribe/cliniscribe/pkg/audio/mock"
	embmock "github.com/cliniscribe/cliniscribe/pkg/provider/embeddings/mock"
	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
	llmmock "github.com/cliniscribe/cliniscribe/pkg/provider/llm/mock"
	sttmock "github.com/cliniscribe/cliniscribe/pkg/provider/stt/mock"
)

// testConfig returns a minimal config for tests. The listen address binds an
// ephemeral port so parallel tests do not collide.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Visit: config.VisitConfig{
			Language: "en",
		},
	}
}

// testProviders returns mock providers for the full pipeline.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "{}"},
		},
		STT:        &sttmock.Provider{},
		Embeddings: &embmock.Provider{EmbedResult: []float32{0.1, 0.2}},
	}
}

// stubIndex is an in-memory archive.Index for wiring tests.
type stubIndex struct {
	entries []archive.VisitEntry
}

func (s *stubIndex) Add(_ context.Context, entry archive.VisitEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubIndex) Search(context.Context, []float32, int, archive.Filter) ([]archive.Result, error) {
	return nil, nil
}

func (s *stubIndex) Visits(context.Context, int64, int) ([]archive.VisitEntry, error) {
	return s.entries, nil
}

func newTestApp(t *testing.T, cfg *config.Config, providers *app.Providers) *app.App {
	t.Helper()
	application, err := app.New(
		context.Background(),
		cfg,
		providers,
		app.WithRecordStore(record.NewMemStore()),
		app.WithArchiveIndex(&stubIndex{}),
		app.WithAudioSource(func() (audio.Source, error) {
			return audiomock.NewSource(), nil
		}),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	return application
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	newTestApp(t, testConfig(), testProviders())
}

func TestNew_NoProviders(t *testing.T) {
	t.Parallel()

	// Without STT and LLM providers the app still comes up: the dashboard
	// works, recording and chat are unavailable.
	application, err := app.New(
		context.Background(),
		testConfig(),
		&app.Providers{},
		app.WithRecordStore(record.NewMemStore()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	application := newTestApp(t, testConfig(), testProviders())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// A second call is a no-op, not an error.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application := newTestApp(t, testConfig(), testProviders())

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give Run a moment to bind the listener.
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApplyVisitConfig(t *testing.T) {
	t.Parallel()

	application := newTestApp(t, testConfig(), testProviders())
	application.ApplyVisitConfig(config.VisitConfig{
		Language:              "de",
		ExtractionTemperature: 0.2,
		CorrectionConfidence:  0.8,
	})
}

func TestApplyVisitConfig_NoPipeline(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(),
		&app.Providers{},
		app.WithRecordStore(record.NewMemStore()),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	// No STT/LLM means no visit pipeline; the retune is a quiet no-op.
	application.ApplyVisitConfig(config.VisitConfig{Language: "fr"})
}
