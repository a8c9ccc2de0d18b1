package record

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for demos and testing.
type MemStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*PatientRecord
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		nextID:  1,
		records: make(map[int64]*PatientRecord),
	}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, r *PatientRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.ID = s.nextID
	s.nextID++
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.records[cp.ID] = &cp
	return cp.ID, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id int64) (*PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]*PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*PatientRecord, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ApplyUpdates implements [Store.ApplyUpdates].
func (s *MemStore) ApplyUpdates(ctx context.Context, id int64, updates Updates, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if len(updates) == 0 {
		return nil
	}
	for field, value := range updates {
		r.SetValue(field, value)
	}
	r.UpdatedAt = now
	return nil
}
