package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/warden/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteInsertGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acquired := time.Now().UTC().Truncate(time.Second)
	err := s.Insert(ctx, models.Lease{
		ID:         "l1",
		ResourceID: "session-1",
		HolderID:   "worker-a",
		AcquiredAt: acquired,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	lease, err := s.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if lease == nil {
		t.Fatal("Get returned nil for held resource")
	}
	if lease.HolderID != "worker-a" {
		t.Errorf("holder = %s, want worker-a", lease.HolderID)
	}
	if !lease.AcquiredAt.Equal(acquired) {
		t.Errorf("acquired_at = %v, want %v", lease.AcquiredAt, acquired)
	}

	if err := s.Delete(ctx, "session-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	lease, err = s.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if lease != nil {
		t.Error("lease still present after delete")
	}
}

func TestSQLiteInsertConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := models.Lease{ID: "l1", ResourceID: "session-1", HolderID: "worker-a", AcquiredAt: time.Now().UTC()}
	if err := s.Insert(ctx, first); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}

	second := models.Lease{ID: "l2", ResourceID: "session-1", HolderID: "worker-b", AcquiredAt: time.Now().UTC()}
	if err := s.Insert(ctx, second); err != ErrHeld {
		t.Fatalf("second Insert = %v, want ErrHeld", err)
	}

	// A different resource is unaffected.
	other := models.Lease{ID: "l3", ResourceID: "session-2", HolderID: "worker-b", AcquiredAt: time.Now().UTC()}
	if err := s.Insert(ctx, other); err != nil {
		t.Errorf("Insert on other resource failed: %v", err)
	}
}

func TestSQLiteGetUnheld(t *testing.T) {
	s := newTestStore(t)
	lease, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if lease != nil {
		t.Error("Get returned a lease for unheld resource")
	}
}

func TestManagerWithSQLiteStore(t *testing.T) {
	s := newTestStore(t)
	m := newTestManager(s, "worker-a")
	ctx := context.Background()

	res, err := m.TryAcquire(ctx, "session-1")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !res.Acquired {
		t.Fatal("not acquired")
	}

	other := newTestManager(s, "worker-b")
	res, err = other.TryAcquire(ctx, "session-1")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if res.Acquired {
		t.Fatal("second worker acquired a held lease")
	}
	if res.Holder != "worker-a" {
		t.Errorf("holder = %s, want worker-a", res.Holder)
	}

	if err := m.Release(ctx, "session-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	res, err = other.TryAcquire(ctx, "session-1")
	if err != nil {
		t.Fatalf("TryAcquire after release failed: %v", err)
	}
	if !res.Acquired {
		t.Error("not acquired after release")
	}
}
