// Package app wires all Cliniscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithRecordStore,
// WithArchiveIndex, WithAudioSource). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cliniscribe/cliniscribe/internal/archive"
	archivepg "github.com/cliniscribe/cliniscribe/internal/archive/postgres"
	"github.com/cliniscribe/cliniscribe/internal/chat"
	"github.com/cliniscribe/cliniscribe/internal/config"
	"github.com/cliniscribe/cliniscribe/internal/extract"
	"github.com/cliniscribe/cliniscribe/internal/health"
	"github.com/cliniscribe/cliniscribe/internal/observe"
	"github.com/cliniscribe/cliniscribe/internal/record"
	recordpg "github.com/cliniscribe/cliniscribe/internal/record/postgres"
	"github.com/cliniscribe/cliniscribe/internal/report"
	"github.com/cliniscribe/cliniscribe/internal/transcript"
	"github.com/cliniscribe/cliniscribe/internal/transcript/phonetic"
	"github.com/cliniscribe/cliniscribe/internal/visit"
	"github.com/cliniscribe/cliniscribe/internal/web"
	"github.com/cliniscribe/cliniscribe/pkg/audio"
	"github.com/cliniscribe/cliniscribe/pkg/provider/embeddings"
	"github.com/cliniscribe/cliniscribe/pkg/provider/llm"
	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

// defaultEmbeddingDims matches OpenAI text-embedding-3-small.
const defaultEmbeddingDims = 1536

// shutdownGrace bounds the HTTP server drain during Shutdown.
const shutdownGrace = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems initialised in New, torn down in Shutdown.
	pool       *pgxpool.Pool
	store      record.Store
	archIndex  archive.Index
	arch       *archive.Service
	visits     *visit.Manager
	assistant  *chat.Assistant
	newSource  func() (audio.Source, error)
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecordStore injects a patient record store instead of connecting to
// PostgreSQL.
func WithRecordStore(s record.Store) Option {
	return func(a *App) { a.store = s }
}

// WithArchiveIndex injects a visit archive index instead of the pgvector one.
func WithArchiveIndex(i archive.Index) Option {
	return func(a *App) { a.archIndex = i }
}

// WithAudioSource injects an audio source factory instead of the capture
// subprocess.
func WithAudioSource(f func() (audio.Source, error)) Option {
	return func(a *App) { a.newSource = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Visit archive ─────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Audio source factory ──────────────────────────────────────────
	a.initAudio()

	// ── 4. Visit pipeline ────────────────────────────────────────────────
	if err := a.initVisits(); err != nil {
		return nil, fmt.Errorf("app: init visits: %w", err)
	}

	// ── 5. Patient Q&A ───────────────────────────────────────────────────
	if providers.LLM != nil {
		a.assistant = chat.New(providers.LLM)
	}

	// ── 6. HTTP server ───────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage connects the patient record store, migrating on startup.
// Without a DSN (and no injected store) records live in memory only.
func (a *App) initStorage(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		slog.Warn("no database configured, patient records are kept in memory")
		a.store = record.NewMemStore()
		return nil
	}

	pool, err := archivepg.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	store := recordpg.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate patient records: %w", err)
	}
	a.store = store
	return nil
}

// initArchive sets up the semantic visit archive when an embeddings provider
// is configured.
func (a *App) initArchive(ctx context.Context) error {
	if a.providers.Embeddings == nil {
		if a.archIndex == nil {
			slog.Warn("no embeddings provider configured, visit search is unavailable")
			return nil
		}
	}

	if a.archIndex == nil {
		if a.pool == nil {
			slog.Warn("visit archive needs PostgreSQL, visit search is unavailable")
			return nil
		}
		dims := a.cfg.Database.EmbeddingDimensions
		if dims == 0 {
			dims = defaultEmbeddingDims
		}
		idx := archivepg.NewIndex(a.pool, dims)
		if err := idx.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate visit archive: %w", err)
		}
		a.archIndex = idx
	}

	if a.providers.Embeddings != nil {
		a.arch = archive.NewService(a.archIndex, a.providers.Embeddings)
	}
	return nil
}

// initAudio builds the capture factory from config unless one was injected.
func (a *App) initAudio() {
	if a.newSource != nil {
		return
	}
	audioCfg := a.cfg.Audio
	a.newSource = func() (audio.Source, error) {
		var opts []audio.CaptureOption
		if audioCfg.Command != "" {
			opts = append(opts, audio.WithCommand(audioCfg.Command, audioCfg.Args...))
		}
		if audioCfg.SampleRate > 0 {
			opts = append(opts, audio.WithCaptureSampleRate(audioCfg.SampleRate))
		}
		if audioCfg.Channels > 0 {
			opts = append(opts, audio.WithCaptureChannels(audioCfg.Channels))
		}
		return audio.NewCapture(audioCfg.Device, opts...)
	}
}

// initVisits assembles the recording pipeline. Without STT and LLM providers
// the dashboard still works, just without recording.
func (a *App) initVisits() error {
	if a.providers.STT == nil || a.providers.LLM == nil {
		return nil
	}

	var extractOpts []extract.Option
	if t := a.cfg.Visit.ExtractionTemperature; t > 0 {
		extractOpts = append(extractOpts, extract.WithTemperature(t))
	}

	var matcherOpts []phonetic.Option
	if c := a.cfg.Visit.CorrectionConfidence; c > 0 {
		matcherOpts = append(matcherOpts, phonetic.WithPhoneticThreshold(c))
	}

	var reports *report.Generator
	reports = report.NewGenerator(report.NewLLMSummariser(a.providers.LLM))

	m, err := visit.NewManager(visit.Config{
		Store:            a.store,
		STT:              a.providers.STT,
		Extractor:        extract.New(a.providers.LLM, extractOpts...),
		Corrector:        transcript.NewCorrector(phonetic.New(matcherOpts...)),
		Archive:          a.arch,
		Reports:          reports,
		SampleRate:       a.cfg.Audio.SampleRate,
		Channels:         a.cfg.Audio.Channels,
		Language:         a.cfg.Visit.Language,
		ExtraTerms:       loadFormularyTerms(a.cfg.Visit.LexiconPath),
		SilenceStop:      time.Duration(a.cfg.Audio.SilenceStopSec) * time.Second,
		SilenceThreshold: a.cfg.Audio.SilenceThreshold,
	})
	if err != nil {
		return err
	}
	a.visits = m
	return nil
}

// initHTTP assembles the web server with health checks and metrics.
func (a *App) initHTTP() error {
	checkers := []health.Checker{}
	if a.pool != nil {
		checkers = append(checkers, health.Database(a.pool))
	}

	srv, err := web.NewServer(web.Config{
		Store:     a.store,
		Visits:    a.visits,
		NewSource: a.newSource,
		Assistant: a.assistant,
		Archive:   a.arch,
		Feed:      web.NewFeed(),
		Health:    health.New(checkers...),
		Metrics:   promhttp.Handler(),
	})
	if err != nil {
		return err
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(srv.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ApplyVisitConfig retunes the visit pipeline after a config reload. The new
// settings apply to sessions started from now on.
func (a *App) ApplyVisitConfig(v config.VisitConfig) {
	a.cfg.Visit = v
	if a.visits == nil {
		return
	}

	var extractOpts []extract.Option
	if v.ExtractionTemperature > 0 {
		extractOpts = append(extractOpts, extract.WithTemperature(v.ExtractionTemperature))
	}
	var matcherOpts []phonetic.Option
	if v.CorrectionConfidence > 0 {
		matcherOpts = append(matcherOpts, phonetic.WithPhoneticThreshold(v.CorrectionConfidence))
	}

	a.visits.Retune(
		extract.New(a.providers.LLM, extractOpts...),
		transcript.NewCorrector(phonetic.New(matcherOpts...)),
		v.Language,
		loadFormularyTerms(v.LexiconPath),
	)
	slog.Info("visit pipeline retuned",
		"language", v.Language,
		"extraction_temperature", v.ExtractionTemperature,
		"correction_confidence", v.CorrectionConfidence,
	)
}

// loadFormularyTerms reads the clinic formulary when configured. A broken
// formulary only costs keyword boosting, so failures warn instead of aborting
// startup.
func loadFormularyTerms(path string) []string {
	if path == "" {
		return nil
	}
	ff, err := transcript.LoadFormulary(path)
	if err != nil {
		slog.Warn("formulary unavailable", "path", path, "err", err)
		return nil
	}
	terms := ff.CleanTerms()
	slog.Info("formulary loaded", "path", path, "terms", len(terms))
	return terms
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains the server.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		tls := a.cfg.Server.TLS
		if tls != nil {
			errCh <- a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.httpServer.ListenAndServe()
	}()

	slog.Info("app running", "addr", a.httpServer.Addr,
		"recording", a.visits != nil,
		"chat", a.assistant != nil,
		"visit_search", a.arch != nil,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.httpServer.Shutdown(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("http drain error", "err", err)
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// A visit in flight is stopped, not aborted: its transcript still
		// merges and persists.
		if a.visits != nil {
			if err := a.visits.Stop(); err == nil {
				if s := a.visits.Active(); s != nil {
					if _, err := s.Wait(ctx); err != nil {
						slog.Warn("session did not finish before shutdown", "err", err)
					}
				}
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
