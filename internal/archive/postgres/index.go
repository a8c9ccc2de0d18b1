// Package postgres provides the PostgreSQL-backed visit archive index.
//
// Entries live in a visit_archive table with a pgvector HNSW index for fast
// approximate nearest-neighbour search. The pgvector extension must be
// available in the target database; [Index.Migrate] installs it via
// CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/cliniscribe/cliniscribe/internal/archive"
)

// DB is the database interface used by [Index]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema returns the visit_archive DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time; changing it afterwards requires a manual migration.
func Schema(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS visit_archive (
    id          TEXT         PRIMARY KEY,
    patient_id  BIGINT       NOT NULL,
    transcript  TEXT         NOT NULL,
    summary     TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    recorded_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_visit_archive_patient_id
    ON visit_archive (patient_id);

CREATE INDEX IF NOT EXISTS idx_visit_archive_recorded_at
    ON visit_archive (recorded_at);

CREATE INDEX IF NOT EXISTS idx_visit_archive_embedding
    ON visit_archive USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Connect opens a pgx connection pool to dsn with pgvector types registered
// on every connection, so vector columns can be scanned into and inserted
// from [pgvector.Vector] values. The pool is pinged before being returned.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("visit archive: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("visit archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("visit archive: ping: %w", err)
	}
	return pool, nil
}

// Index is an [archive.Index] backed by a PostgreSQL database with pgvector.
//
// All methods are safe for concurrent use.
type Index struct {
	db         DB
	dimensions int
}

// Compile-time interface check.
var _ archive.Index = (*Index)(nil)

// NewIndex creates an Index over db. embeddingDimensions must match the
// output dimension of the embedding model producing entry vectors.
func NewIndex(db DB, embeddingDimensions int) *Index {
	return &Index{db: db, dimensions: embeddingDimensions}
}

// Migrate executes the [Schema] DDL. It is idempotent and safe to call on
// every application start.
func (i *Index) Migrate(ctx context.Context) error {
	if _, err := i.db.Exec(ctx, Schema(i.dimensions)); err != nil {
		return fmt.Errorf("visit archive: migrate: %w", err)
	}
	return nil
}

// Add implements [archive.Index.Add]. An entry with an existing ID is
// completely replaced.
func (i *Index) Add(ctx context.Context, entry archive.VisitEntry) error {
	const q = `
		INSERT INTO visit_archive
		    (id, patient_id, transcript, summary, embedding, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    patient_id  = EXCLUDED.patient_id,
		    transcript  = EXCLUDED.transcript,
		    summary     = EXCLUDED.summary,
		    embedding   = EXCLUDED.embedding,
		    recorded_at = EXCLUDED.recorded_at`

	vec := pgvector.NewVector(entry.Embedding)
	_, err := i.db.Exec(ctx, q,
		entry.ID,
		entry.PatientID,
		entry.Transcript,
		entry.Summary,
		vec,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("visit archive: add: %w", err)
	}
	return nil
}

// Search implements [archive.Index.Search]. It finds the topK entries whose
// embeddings are closest (cosine distance) to the supplied query embedding,
// optionally narrowed by filter.
//
// Results are ordered by ascending cosine distance (most similar first).
func (i *Index) Search(ctx context.Context, embedding []float32, topK int, filter archive.Filter) ([]archive.Result, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.PatientID != 0 {
		conditions = append(conditions, "patient_id = "+next(filter.PatientID))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "recorded_at > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "recorded_at < "+next(filter.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, patient_id, transcript, summary, embedding, recorded_at,
		       embedding <=> $1 AS distance
		FROM   visit_archive
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := i.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("visit archive: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Result, error) {
		var (
			r   archive.Result
			vec pgvector.Vector
		)
		if err := row.Scan(
			&r.Entry.ID,
			&r.Entry.PatientID,
			&r.Entry.Transcript,
			&r.Entry.Summary,
			&vec,
			&r.Entry.RecordedAt,
			&r.Distance,
		); err != nil {
			return archive.Result{}, err
		}
		r.Entry.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("visit archive: scan rows: %w", err)
	}
	if results == nil {
		results = []archive.Result{}
	}
	return results, nil
}

// Visits implements [archive.Index.Visits], returning the patient's entries
// most recent first.
func (i *Index) Visits(ctx context.Context, patientID int64, limit int) ([]archive.VisitEntry, error) {
	const q = `
		SELECT id, patient_id, transcript, summary, embedding, recorded_at
		FROM   visit_archive
		WHERE  patient_id = $1
		ORDER  BY recorded_at DESC
		LIMIT  $2`

	rows, err := i.db.Query(ctx, q, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("visit archive: visits: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.VisitEntry, error) {
		var (
			e   archive.VisitEntry
			vec pgvector.Vector
		)
		if err := row.Scan(&e.ID, &e.PatientID, &e.Transcript, &e.Summary, &vec, &e.RecordedAt); err != nil {
			return archive.VisitEntry{}, err
		}
		e.Embedding = vec.Slice()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("visit archive: scan rows: %w", err)
	}
	if entries == nil {
		entries = []archive.VisitEntry{}
	}
	return entries, nil
}
