package record

import (
	"context"
	"time"
)

// Store persists patient records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create inserts a new record and returns its assigned ID. The store
	// owns created_at/updated_at.
	Create(ctx context.Context, r *PatientRecord) (int64, error)

	// Get returns the record with the given ID, or [ErrNotFound].
	Get(ctx context.Context, id int64) (*PatientRecord, error)

	// List returns all records ordered by ID. Never returns nil on success.
	List(ctx context.Context) ([]*PatientRecord, error)

	// ApplyUpdates writes exactly the given merge output to the record and
	// bumps updated_at. An empty updates map is a no-op: nothing is written
	// and updated_at keeps its value. Returns [ErrNotFound] for unknown IDs
	// (even for a no-op, so callers learn about stale IDs).
	ApplyUpdates(ctx context.Context, id int64, updates Updates, now time.Time) error
}
