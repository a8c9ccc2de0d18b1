package record

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	id, err := s.Create(ctx, &PatientRecord{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FullName() != "Ada Lovelace" {
		t.Errorf("full name = %q, want %q", got.FullName(), "Ada Lovelace")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("audit timestamps not set: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestMemStoreGetNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	if _, err := s.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown id error = %v, want ErrNotFound", err)
	}
}

func TestMemStoreApplyUpdates(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	id, err := s.Create(ctx, &PatientRecord{FirstName: "Ada"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	before, _ := s.Get(ctx, id)
	now := before.UpdatedAt.Add(time.Minute)

	err = s.ApplyUpdates(ctx, id, Updates{FieldSymptoms: "Cough, Fever"}, now)
	if err != nil {
		t.Fatalf("ApplyUpdates: %v", err)
	}

	after, _ := s.Get(ctx, id)
	if after.Symptoms != "Cough, Fever" {
		t.Errorf("symptoms = %q, want %q", after.Symptoms, "Cough, Fever")
	}
	if !after.UpdatedAt.Equal(now) {
		t.Errorf("updated_at = %v, want %v", after.UpdatedAt, now)
	}
}

func TestMemStoreApplyUpdatesEmptyIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, &PatientRecord{FirstName: "Ada"})

	before, _ := s.Get(ctx, id)
	if err := s.ApplyUpdates(ctx, id, Updates{}, before.UpdatedAt.Add(time.Hour)); err != nil {
		t.Fatalf("ApplyUpdates: %v", err)
	}

	after, _ := s.Get(ctx, id)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("updated_at bumped on empty updates: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestMemStoreApplyUpdatesUnknownID(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	err := s.ApplyUpdates(context.Background(), 7, Updates{}, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ApplyUpdates unknown id error = %v, want ErrNotFound", err)
	}
}

func TestMemStoreListOrdered(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	for _, name := range []string{"Ada", "Grace", "Edsger"} {
		if _, err := s.Create(ctx, &PatientRecord{FirstName: name}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, r := range list {
		if r.ID != int64(i+1) {
			t.Errorf("list[%d].ID = %d, want %d", i, r.ID, i+1)
		}
	}
}
