// Package web serves the clinician-facing dashboard and JSON API.
//
// Pages are server-rendered html/template: login, patient intake, the
// per-patient dashboard, the manual-edit form, and the visit report. Manual
// edits go through the same merge engine as speech-derived updates, so the
// web layer can never overwrite chart data. Session control, chat, and visit
// search are small JSON endpoints driven by the dashboard's inline script,
// and /ws/live streams transcription progress while a session runs.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cliniscribe/cliniscribe/internal/archive"
	"github.com/cliniscribe/cliniscribe/internal/chat"
	"github.com/cliniscribe/cliniscribe/internal/health"
	"github.com/cliniscribe/cliniscribe/internal/record"
	"github.com/cliniscribe/cliniscribe/internal/visit"
	"github.com/cliniscribe/cliniscribe/pkg/audio"
)

// searchTimeFormat is how archived visit timestamps appear in search results.
const searchTimeFormat = "2006-01-02 15:04"

// Config holds the dependencies for a [Server]. Store is required; every
// other dependency is optional and its endpoints return 503 when absent.
type Config struct {
	Store record.Store

	// Visits drives the record/start and record/stop endpoints.
	Visits *visit.Manager

	// NewSource opens a fresh microphone source for each recording session.
	NewSource func() (audio.Source, error)

	// Assistant answers /chat questions.
	Assistant *chat.Assistant

	// Archive answers /visits/search queries.
	Archive *archive.Service

	// Feed fans live transcription progress out to /ws/live clients. When
	// nil, the websocket endpoint is absent and progress is discarded.
	Feed *Feed

	// Health registers /healthz and /readyz when set.
	Health *health.Handler

	// Metrics serves GET /metrics when set (the Prometheus scrape handler).
	Metrics http.Handler

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP layer. It keeps the last finished visit result per
// patient so the report page works after the session goroutine has exited.
type Server struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	lastResults map[int64]*visit.Result
}

// NewServer validates cfg and returns a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("web: Store must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		log:         cfg.Logger,
		lastResults: make(map[int64]*visit.Result),
	}, nil
}

// Routes builds the ServeMux with every endpoint registered.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleLogin)
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /patients/new", s.handleIntakeForm)
	mux.HandleFunc("POST /patients", s.handleCreate)
	mux.HandleFunc("GET /patients/{id}", s.handleDashboard)
	mux.HandleFunc("GET /patients/{id}/edit", s.handleEditForm)
	mux.HandleFunc("POST /patients/{id}", s.handleUpdate)
	mux.HandleFunc("POST /patients/{id}/record/start", s.handleRecordStart)
	mux.HandleFunc("POST /record/stop", s.handleRecordStop)
	mux.HandleFunc("GET /patients/{id}/report", s.handleReport)
	mux.HandleFunc("POST /patients/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /patients/{id}/visits/search", s.handleSearch)

	if s.cfg.Feed != nil {
		mux.HandleFunc("GET /ws/live", s.cfg.Feed.ServeWS)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}
	return mux
}

// ---------------------------------------------------------------------------
// Pages
// ---------------------------------------------------------------------------

// loginData feeds the login template.
type loginData struct {
	Title     string
	Error     string
	PatientID string
}

func (s *Server) handleLogin(w http.ResponseWriter, _ *http.Request) {
	s.renderPage(w, http.StatusOK, "login", loginData{Title: "Login"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.FormValue("patient_id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.renderPage(w, http.StatusBadRequest, "login", loginData{
			Title: "Login", Error: "Patient ID must be a number.", PatientID: raw,
		})
		return
	}

	if _, err := s.cfg.Store.Get(r.Context(), id); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			s.renderPage(w, http.StatusNotFound, "login", loginData{
				Title: "Login", Error: fmt.Sprintf("No patient with ID %d.", id), PatientID: raw,
			})
			return
		}
		s.serverError(w, "verify", err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/patients/%d", id), http.StatusSeeOther)
}

// intakeData feeds the intake template.
type intakeData struct {
	Title string
	Error string
}

func (s *Server) handleIntakeForm(w http.ResponseWriter, _ *http.Request) {
	s.renderPage(w, http.StatusOK, "intake", intakeData{Title: "New patient"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	first := strings.TrimSpace(r.FormValue("first_name"))
	last := strings.TrimSpace(r.FormValue("last_name"))
	if first == "" || last == "" {
		s.renderPage(w, http.StatusBadRequest, "intake", intakeData{
			Title: "New patient", Error: "First and last name are required.",
		})
		return
	}

	rec := &record.PatientRecord{
		FirstName:   first,
		LastName:    last,
		Gender:      strings.TrimSpace(r.FormValue("gender")),
		DateOfBirth: strings.TrimSpace(r.FormValue("date_of_birth")),
	}
	if age, err := strconv.Atoi(strings.TrimSpace(r.FormValue("age"))); err == nil && age > 0 {
		rec.Age = age
	}

	id, err := s.cfg.Store.Create(r.Context(), rec)
	if err != nil {
		s.serverError(w, "create patient", err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/patients/%d", id), http.StatusSeeOther)
}

// chartRow is one label/value line on the dashboard.
type chartRow struct {
	Label string
	Value string
}

// dashboardData feeds the dashboard template.
type dashboardData struct {
	Title  string
	Record *record.PatientRecord
	Chart  []chartRow
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.patient(w, r)
	if !ok {
		return
	}
	s.renderPage(w, http.StatusOK, "dashboard", dashboardData{
		Title:  rec.FullName(),
		Record: rec,
		Chart:  chartRows(rec),
	})
}

// editField is one mergeable field on the edit form.
type editField struct {
	Name    string
	Label   string
	Current string
	Rows    int
}

// editData feeds the edit template.
type editData struct {
	Title  string
	Record *record.PatientRecord
	Fields []editField
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.patient(w, r)
	if !ok {
		return
	}

	var fields []editField
	for _, f := range record.MergeableFields() {
		rows := 2
		if f == record.FieldNotes {
			rows = 4
		}
		fields = append(fields, editField{
			Name:    string(f),
			Label:   fieldLabel(f),
			Current: rec.Value(f),
			Rows:    rows,
		})
	}
	s.renderPage(w, http.StatusOK, "edit", editData{
		Title:  "Edit " + rec.FullName(),
		Record: rec,
		Fields: fields,
	})
}

// handleUpdate merges submitted form values into the record. Unknown form
// keys are dropped by construction: only the mergeable vocabulary is read.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.patient(w, r)
	if !ok {
		return
	}

	proposed := record.ProposedUpdate{}
	for _, f := range record.MergeableFields() {
		if value := strings.TrimSpace(r.FormValue(string(f))); value != "" {
			proposed[f] = value
		}
	}

	now := time.Now()
	updates, changes := record.Merge(rec, proposed, now)
	if len(updates) > 0 {
		if err := s.cfg.Store.ApplyUpdates(r.Context(), rec.ID, updates, now); err != nil {
			s.serverError(w, "apply updates", err)
			return
		}
		s.log.Info("manual record update",
			"patient_id", rec.ID,
			"fields_changed", len(updates),
			"summary", changes.String(),
		)
	}
	http.Redirect(w, r, fmt.Sprintf("/patients/%d", rec.ID), http.StatusSeeOther)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.patient(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	result := s.lastResults[rec.ID]
	s.mu.Unlock()

	if result == nil || result.Report == nil {
		http.Error(w, "no visit report for this patient yet", http.StatusNotFound)
		return
	}
	if err := result.Report.RenderHTML(w); err != nil {
		s.log.Error("render report", "patient_id", rec.ID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// JSON API
// ---------------------------------------------------------------------------

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Visits == nil || s.cfg.NewSource == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("recording is not configured"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid patient id"))
		return
	}

	source, err := s.cfg.NewSource()
	if err != nil {
		s.log.Error("open audio source", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("audio source unavailable"))
		return
	}

	// The session must outlive this request.
	sess, err := s.cfg.Visits.Start(context.WithoutCancel(r.Context()), id, source)
	if err != nil {
		source.Close()
		switch {
		case errors.Is(err, record.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("patient not found"))
		case errors.Is(err, visit.ErrSessionActive):
			writeJSON(w, http.StatusConflict, errorBody("a recording is already in progress"))
		default:
			s.log.Error("start session", "patient_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("could not start session"))
		}
		return
	}

	if s.cfg.Feed != nil {
		go s.cfg.Feed.Forward(sess.Progress())
	} else {
		go audio.Drain(sess.Progress())
	}
	go s.awaitResult(id, sess)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recording"})
}

// awaitResult parks until the session finishes and keeps its outcome for the
// report page.
func (s *Server) awaitResult(patientID int64, sess *visit.Session) {
	result, err := sess.Wait(context.Background())
	if err != nil {
		s.log.Error("visit session", "patient_id", patientID, "error", err)
		return
	}
	s.mu.Lock()
	s.lastResults[patientID] = result
	s.mu.Unlock()
}

func (s *Server) handleRecordStop(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Visits == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("recording is not configured"))
		return
	}
	if err := s.cfg.Visits.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, errorBody("no recording in progress"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Assistant == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("assistant is not configured"))
		return
	}
	rec, ok := s.patientJSON(w, r)
	if !ok {
		return
	}

	var body struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	answer, err := s.cfg.Assistant.Ask(r.Context(), rec, body.Question)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuestion) {
			writeJSON(w, http.StatusBadRequest, errorBody("question must not be empty"))
			return
		}
		s.log.Error("chat", "patient_id", rec.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody("assistant unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// searchResult is one JSON entry returned by the visit search endpoint.
type searchResult struct {
	ID         string  `json:"id"`
	Summary    string  `json:"summary,omitempty"`
	Snippet    string  `json:"snippet"`
	Distance   float64 `json:"distance"`
	RecordedAt string  `json:"recorded_at"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("visit archive is not configured"))
		return
	}
	rec, ok := s.patientJSON(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := s.cfg.Archive.SearchVisits(r.Context(), rec.ID, query, limit)
	if err != nil {
		s.log.Error("visit search", "patient_id", rec.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody("search unavailable"))
		return
	}

	out := make([]searchResult, 0, len(results))
	for _, res := range results {
		out = append(out, searchResult{
			ID:         res.Entry.ID,
			Summary:    res.Entry.Summary,
			Snippet:    snippet(res.Entry.Transcript),
			Distance:   res.Distance,
			RecordedAt: res.Entry.RecordedAt.Format(searchTimeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// patient resolves {id} and loads the record, writing an HTML error response
// when it cannot.
func (s *Server) patient(w http.ResponseWriter, r *http.Request) (*record.PatientRecord, bool) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return nil, false
	}
	rec, err := s.cfg.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return nil, false
		}
		s.serverError(w, "load patient", err)
		return nil, false
	}
	return rec, true
}

// patientJSON is patient with JSON error responses.
func (s *Server) patientJSON(w http.ResponseWriter, r *http.Request) (*record.PatientRecord, bool) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid patient id"))
		return nil, false
	}
	rec, err := s.cfg.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("patient not found"))
			return nil, false
		}
		s.log.Error("load patient", "patient_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return nil, false
	}
	return rec, true
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (s *Server) renderPage(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("render page", "template", name, "error", err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// snippet shortens a transcript for search listings.
func snippet(text string) string {
	const max = 160
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndex(text[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return text[:cut] + "…"
}

// chartRows lists the record's populated fields in display order.
func chartRows(rec *record.PatientRecord) []chartRow {
	var rows []chartRow
	add := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		rows = append(rows, chartRow{Label: label, Value: value})
	}
	if rec.Age > 0 {
		add("Age", strconv.Itoa(rec.Age))
	}
	add("Gender", rec.Gender)
	add("Date of birth", rec.DateOfBirth)
	add("Symptoms", rec.Symptoms)
	add("Vital signs", rec.VitalSigns)
	add("Medications", rec.Medications)
	add("Allergies", rec.Allergies)
	add("Medical history", rec.MedicalHistory)
	add("Family history", rec.FamilyHistory)
	add("Diagnosis", rec.Diagnosis)
	add("Treatment plan", rec.TreatmentPlan)
	add("Follow-up date", rec.FollowUpDate)
	add("Notes", rec.Notes)
	return rows
}

// fieldLabel renders a column name for display ("vital_signs" → "Vital signs").
func fieldLabel(f record.Field) string {
	label := strings.ReplaceAll(string(f), "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
