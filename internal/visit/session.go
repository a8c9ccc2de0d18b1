// Package visit orchestrates one recording session per patient.
//
// A [Session] runs the full pipeline: capture PCM from an [audio.Source],
// stream it to an STT session, correct medical terms in the finals against the
// patient's record lexicon, extract a proposed update with the LLM, merge it
// into the record, persist the merged columns, archive the transcript, and
// produce the visit report.
//
// The [Manager] enforces the single-session rule: at most one session runs at
// a time. Stopping a session ends the recording and lets the pipeline finish
// with whatever was transcribed; aborting cancels everything before a single
// column is written. When configured, sustained silence in the captured audio
// stops the recording the same way an explicit stop does.
package visit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cliniscribe/cliniscribe/internal/archive"
	"github.com/cliniscribe/cliniscribe/internal/extract"
	"github.com/cliniscribe/cliniscribe/internal/observe"
	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/internal/report"
	"github.com/cliniscribe/cliniscribe/internal/transcript"
	"github.com/cliniscribe/cliniscribe/pkg/audio"
	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	defaultLanguage   = "en"

	// keywordBoost is the hint intensity applied to lexicon terms.
	keywordBoost = 1.0

	// defaultSilenceThreshold is the RMS level separating room noise from
	// speech, matching the whisper provider default.
	defaultSilenceThreshold = 300.0

	// progressBuffer bounds the live feed channel. A slow or absent consumer
	// loses events rather than stalling the pipeline.
	progressBuffer = 64
)

var (
	// ErrSessionActive is returned by [Manager.Start] while another session
	// is still running.
	ErrSessionActive = errors.New("visit: a session is already running")

	// ErrNoSession is returned by [Manager.Stop] when nothing is running.
	ErrNoSession = errors.New("visit: no active session")
)

// Progress is one live feed event emitted while a session runs.
type Progress struct {
	// Text is the partial or final transcript text.
	Text string

	// Final marks authoritative transcript segments.
	Final bool
}

// Result is everything a finished session produced.
type Result struct {
	PatientID   int64
	Transcript  string
	Corrections []transcript.Correction
	Proposed    record.ProposedUpdate
	Changes     record.ChangeSummary

	// Applied is true when the merge produced columns that were written.
	Applied bool

	// ArchiveID is the visit archive entry id, or empty when archiving was
	// skipped or failed.
	ArchiveID string

	Report *report.Report
}

// Config holds the dependencies for a [Manager].
//
// Store, STT, and Extractor are required. Corrector, Archive, and Reports
// are optional: a nil Corrector skips term correction, a nil Archive skips
// archiving, and a nil Reports skips report generation.
type Config struct {
	Store     record.Store
	STT       stt.Provider
	Extractor *extract.Extractor
	Corrector *transcript.Corrector
	Archive   *archive.Service
	Reports   *report.Generator

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// SampleRate and Channels describe the capture format handed to the STT
	// provider. Defaults: 16000 Hz mono.
	SampleRate int
	Channels   int

	// Language is the recognition language tag. Default: "en".
	Language string

	// ExtraTerms supplements every patient's lexicon with clinic-wide terms,
	// typically loaded from a formulary file.
	ExtraTerms []string

	// SilenceStop ends the recording after this much sustained silence in the
	// captured audio. Zero disables silence-based stop.
	SilenceStop time.Duration

	// SilenceThreshold is the RMS level below which a frame counts as silence.
	// Default: 300.
	SilenceThreshold float64
}

// Manager starts and supervises visit sessions, one at a time.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	active *Session
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("visit: Store must not be nil")
	}
	if cfg.STT == nil {
		return nil, errors.New("visit: STT must not be nil")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("visit: Extractor must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	return &Manager{cfg: cfg}, nil
}

// Session is one running (or finished) recording session.
type Session struct {
	id        string
	patientID int64
	rec       *record.PatientRecord
	cfg       Config

	ctx           context.Context
	abort         context.CancelFunc
	recordCtx     context.Context
	stopRecording context.CancelFunc

	progress chan Progress
	done     chan struct{}

	result *Result
	err    error
}

// Retune swaps the extraction and correction stages for sessions started
// after the call. A running session keeps the stages it started with.
func (m *Manager) Retune(extractor *extract.Extractor, corrector *transcript.Corrector, language string, extraTerms []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if extractor != nil {
		m.cfg.Extractor = extractor
	}
	m.cfg.Corrector = corrector
	if language != "" {
		m.cfg.Language = language
	}
	m.cfg.ExtraTerms = extraTerms
}

// Start looks up the patient and launches a new session reading from source.
// It returns [record.ErrNotFound] for unknown patients and [ErrSessionActive]
// while an earlier session is still running.
func (m *Manager) Start(ctx context.Context, patientID int64, source audio.Source) (*Session, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	// Each session runs on a config snapshot so a Retune mid-session cannot
	// mix stages.
	cfg := m.cfg
	m.mu.Unlock()

	rec, err := cfg.Store.Get(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("visit: load patient %d: %w", patientID, err)
	}

	sessionCtx, abort := context.WithCancel(ctx)
	recordCtx, stopRecording := context.WithCancel(sessionCtx)
	s := &Session{
		id:            uuid.NewString(),
		patientID:     patientID,
		rec:           rec,
		cfg:           cfg,
		ctx:           sessionCtx,
		abort:         abort,
		recordCtx:     recordCtx,
		stopRecording: stopRecording,
		progress:      make(chan Progress, progressBuffer),
		done:          make(chan struct{}),
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		abort()
		return nil, ErrSessionActive
	}
	m.active = s
	m.mu.Unlock()

	go m.run(s, source)
	return s, nil
}

// Active returns the running session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stop ends the recording of the active session. The pipeline continues with
// the audio captured so far.
func (m *Manager) Stop() error {
	s := m.Active()
	if s == nil {
		return ErrNoSession
	}
	s.Stop()
	return nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// PatientID returns the patient this session records.
func (s *Session) PatientID() int64 { return s.patientID }

// Stop ends the recording. Already-captured audio is still transcribed,
// extracted, and merged.
func (s *Session) Stop() { s.stopRecording() }

// Abort cancels the whole session. No record columns are written.
func (s *Session) Abort() { s.abort() }

// Done is closed when the session has finished, successfully or not.
func (s *Session) Done() <-chan struct{} { return s.done }

// Progress returns the live feed channel. Events are dropped when the
// consumer falls behind; the channel is closed when the session ends.
func (s *Session) Progress() <-chan Progress { return s.progress }

// Wait blocks until the session finishes or ctx is cancelled and returns the
// session outcome.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return s.result, s.err
	}
}

// publish sends a live feed event without ever blocking the pipeline.
func (s *Session) publish(p Progress) {
	select {
	case s.progress <- p:
	default:
	}
}

// outcomeLabel classifies a finished session for the visits counter.
func (s *Session) outcomeLabel() string {
	switch {
	case s.err != nil && errors.Is(s.err, context.Canceled):
		return "aborted"
	case s.err != nil:
		return "failed"
	case s.result != nil && s.result.Applied:
		return "applied"
	default:
		return "no_changes"
	}
}

// run drives the session pipeline and records its outcome.
func (m *Manager) run(s *Session, source audio.Source) {
	log := s.cfg.Logger.With("session_id", s.id, "patient_id", s.patientID)
	met := observe.DefaultMetrics()
	log.Info("visit session started")
	met.ActiveSessions.Add(s.ctx, 1)

	defer func() {
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		s.abort()
		close(s.progress)
		close(s.done)
		met.ActiveSessions.Add(context.Background(), -1)
		met.RecordVisitCompleted(context.Background(), s.outcomeLabel())
		if s.err != nil {
			log.Error("visit session failed", "error", s.err)
		} else {
			log.Info("visit session finished")
		}
	}()

	recStart := time.Now()
	finals, corrections, err := m.record(s, source)
	met.STTDuration.Record(s.ctx, time.Since(recStart).Seconds())
	if err != nil {
		s.err = err
		return
	}
	if n := len(corrections); n > 0 {
		met.TermCorrections.Add(s.ctx, int64(n))
	}

	// Recording is over; everything below runs on the session context so an
	// abort still prevents writes, while a plain stop does not.
	if err := s.ctx.Err(); err != nil {
		s.err = fmt.Errorf("visit: aborted: %w", err)
		return
	}

	text := strings.Join(finals, " ")
	result := &Result{
		PatientID:   s.patientID,
		Transcript:  text,
		Corrections: corrections,
	}
	now := time.Now()

	extractStart := time.Now()
	proposed, err := s.cfg.Extractor.Extract(s.ctx, text)
	met.ExtractionDuration.Record(s.ctx, time.Since(extractStart).Seconds())
	if err != nil {
		s.err = fmt.Errorf("visit: extract: %w", err)
		return
	}
	result.Proposed = proposed

	updates, changes := record.Merge(s.rec, proposed, now)
	result.Changes = changes

	current := s.rec
	if len(updates) > 0 {
		if err := s.cfg.Store.ApplyUpdates(s.ctx, s.patientID, updates, now); err != nil {
			s.err = fmt.Errorf("visit: persist: %w", err)
			return
		}
		result.Applied = true
		for field := range updates {
			met.RecordFieldMerged(s.ctx, string(field))
		}
		if updated, err := s.cfg.Store.Get(s.ctx, s.patientID); err == nil {
			current = updated
		}
		log.Info("patient record updated",
			"fields_changed", len(updates),
			"summary", changes.String(),
		)
	}

	if s.cfg.Archive != nil && text != "" {
		entry, err := s.cfg.Archive.ArchiveVisit(s.ctx, s.patientID, text, changes.String(), now)
		if err != nil {
			// The visit outcome is already persisted; a dead archive only
			// costs future semantic search.
			log.Warn("visit archive failed", "error", err)
		} else {
			result.ArchiveID = entry.ID
		}
	}

	if s.cfg.Reports != nil {
		result.Report = s.cfg.Reports.Generate(s.ctx, report.Visit{
			Record:     current,
			Transcript: text,
			Changes:    changes,
			VisitedAt:  now,
		})
	}

	s.result = result
}

// record streams captured audio into an STT session until the recording
// context ends, then flushes and collects the final transcripts, corrected
// against the patient's term lexicon.
func (m *Manager) record(s *Session, source audio.Source) ([]string, []transcript.Correction, error) {
	lexicon := append(transcript.Lexicon(s.rec), s.cfg.ExtraTerms...)
	keywords := make([]stt.KeywordBoost, 0, len(lexicon))
	for _, term := range lexicon {
		keywords = append(keywords, stt.KeywordBoost{Keyword: term, Boost: keywordBoost})
	}

	frames, err := source.Start(s.recordCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("visit: start capture: %w", err)
	}
	defer source.Close()

	// The STT session lives on the session context, not the recording one:
	// stopping the recording must still let the provider flush the tail of
	// the last utterance.
	sttSess, err := s.cfg.STT.StartStream(s.ctx, stt.StreamConfig{
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Language:   s.cfg.Language,
		Keywords:   keywords,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("visit: start stream: %w", err)
	}
	defer sttSess.Close()

	conv := &audio.FormatConverter{
		Target: audio.Format{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels},
	}

	var (
		finals      []string
		corrections []transcript.Correction
	)

	g := new(errgroup.Group)
	g.Go(func() error {
		var (
			silentFor   time.Duration
			silenceStop bool
		)
		for frame := range frames {
			out := conv.Convert(frame)
			if len(out.Data) == 0 {
				continue
			}
			if s.cfg.SilenceStop > 0 && !silenceStop {
				if audio.RMS(out.Data) < s.cfg.SilenceThreshold {
					silentFor += out.Duration()
					if silentFor >= s.cfg.SilenceStop {
						silenceStop = true
						s.cfg.Logger.Info("sustained silence, stopping recording",
							"patient_id", s.patientID, "silent_for", silentFor)
						s.stopRecording()
					}
				} else {
					silentFor = 0
				}
			}
			if err := sttSess.SendAudio(out.Data); err != nil {
				// Close unblocks the transcript collectors below.
				sttSess.Close()
				return fmt.Errorf("visit: send audio: %w", err)
			}
		}
		// Capture ended; flush buffered audio and close the transcript
		// channels so the collectors below finish.
		return sttSess.Close()
	})
	g.Go(func() error {
		for t := range sttSess.Partials() {
			s.publish(Progress{Text: t.Text})
		}
		return nil
	})
	g.Go(func() error {
		for t := range sttSess.Finals() {
			text := t.Text
			if s.cfg.Corrector != nil {
				corrected := s.cfg.Corrector.Correct(t, lexicon)
				text = corrected.Text
				corrections = append(corrections, corrected.Corrections...)
			}
			if text != "" {
				finals = append(finals, text)
				s.publish(Progress{Text: text, Final: true})
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return finals, corrections, nil
}
