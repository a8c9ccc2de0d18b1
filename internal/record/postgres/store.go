// Package postgres provides the PostgreSQL-backed patient record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cliniscribe/cliniscribe/internal/record"
)

// Schema is the SQL DDL for the patient_records table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS patient_records (
    id              BIGSERIAL PRIMARY KEY,
    first_name      TEXT NOT NULL,
    last_name       TEXT NOT NULL,
    age             INTEGER NOT NULL DEFAULT 0,
    gender          TEXT NOT NULL DEFAULT '',
    date_of_birth   TEXT NOT NULL DEFAULT '',
    symptoms        TEXT NOT NULL DEFAULT '',
    vital_signs     TEXT NOT NULL DEFAULT '',
    medications     TEXT NOT NULL DEFAULT '',
    allergies       TEXT NOT NULL DEFAULT '',
    medical_history TEXT NOT NULL DEFAULT '',
    family_history  TEXT NOT NULL DEFAULT '',
    diagnosis       TEXT NOT NULL DEFAULT '',
    treatment_plan  TEXT NOT NULL DEFAULT '',
    follow_up_date  TEXT NOT NULL DEFAULT '',
    notes           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_patient_records_last_name ON patient_records(last_name);
`

// recordColumns is the SELECT column list shared by Get and List.
const recordColumns = `id, first_name, last_name, age, gender, date_of_birth,
       symptoms, vital_signs, medications, allergies, medical_history,
       family_history, diagnosis, treatment_plan, follow_up_date, notes,
       created_at, updated_at`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [record.Store] backed by a PostgreSQL database.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ record.Store = (*Store)(nil)

// NewStore creates a new [Store] using the given connection or pool. The
// caller is responsible for calling [Store.Migrate] to ensure the schema
// exists before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL, creating the patient_records table and
// indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("recordstore: migrate: %w", err)
	}
	return nil
}

// Create implements [record.Store.Create].
func (s *Store) Create(ctx context.Context, r *record.PatientRecord) (int64, error) {
	const query = `
		INSERT INTO patient_records (
			first_name, last_name, age, gender, date_of_birth,
			symptoms, vital_signs, medications, allergies, medical_history,
			family_history, diagnosis, treatment_plan, follow_up_date, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		r.FirstName, r.LastName, r.Age, r.Gender, r.DateOfBirth,
		r.Symptoms, r.VitalSigns, r.Medications, r.Allergies, r.MedicalHistory,
		r.FamilyHistory, r.Diagnosis, r.TreatmentPlan, r.FollowUpDate, r.Notes,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("recordstore: create: %w", err)
	}
	return r.ID, nil
}

// Get implements [record.Store.Get]. It returns [record.ErrNotFound] when no
// row exists for id.
func (s *Store) Get(ctx context.Context, id int64) (*record.PatientRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM patient_records WHERE id = $1`

	r, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, record.ErrNotFound
		}
		return nil, fmt.Errorf("recordstore: get %d: %w", id, err)
	}
	return r, nil
}

// List implements [record.Store.List].
func (s *Store) List(ctx context.Context) ([]*record.PatientRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM patient_records ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recordstore: list: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*record.PatientRecord, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, fmt.Errorf("recordstore: list scan: %w", err)
	}
	if records == nil {
		records = []*record.PatientRecord{}
	}
	return records, nil
}

// ApplyUpdates implements [record.Store.ApplyUpdates]. It writes exactly the
// merged column values and bumps updated_at; an empty updates map only
// verifies the row exists.
func (s *Store) ApplyUpdates(ctx context.Context, id int64, updates record.Updates, now time.Time) error {
	if len(updates) == 0 {
		var exists bool
		err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM patient_records WHERE id = $1)`, id,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("recordstore: check %d: %w", id, err)
		}
		if !exists {
			return record.ErrNotFound
		}
		return nil
	}

	args := []any{id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// Columns come from the merge engine's closed field vocabulary, never
	// from user input, so building the SET clause by name is safe.
	var assignments []string
	for _, field := range record.MergeableFields() {
		value, ok := updates[field]
		if !ok {
			continue
		}
		assignments = append(assignments, string(field)+" = "+next(value))
	}
	assignments = append(assignments, "updated_at = "+next(now))

	query := fmt.Sprintf(
		`UPDATE patient_records SET %s WHERE id = $1`,
		strings.Join(assignments, ", "),
	)

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("recordstore: update %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return record.ErrNotFound
	}
	return nil
}

// scanRecord reads one patient_records row in [recordColumns] order.
func scanRecord(row pgx.Row) (*record.PatientRecord, error) {
	var r record.PatientRecord
	err := row.Scan(
		&r.ID, &r.FirstName, &r.LastName, &r.Age, &r.Gender, &r.DateOfBirth,
		&r.Symptoms, &r.VitalSigns, &r.Medications, &r.Allergies, &r.MedicalHistory,
		&r.FamilyHistory, &r.Diagnosis, &r.TreatmentPlan, &r.FollowUpDate, &r.Notes,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
