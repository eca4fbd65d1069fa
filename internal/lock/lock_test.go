package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/warden/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	leases map[string]models.Lease
}

func newMemStore() *memStore {
	return &memStore{leases: make(map[string]models.Lease)}
}

func (s *memStore) Insert(_ context.Context, lease models.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[lease.ResourceID]; ok {
		return ErrHeld
	}
	s.leases[lease.ResourceID] = lease
	return nil
}

func (s *memStore) Get(_ context.Context, resourceID string) (*models.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[resourceID]
	if !ok {
		return nil, nil
	}
	return &lease, nil
}

func (s *memStore) Delete(_ context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, resourceID)
	return nil
}

func (s *memStore) Close() error { return nil }

func newTestManager(store Store, holder string) *Manager {
	m := NewManager(store, holder, 600*time.Second, 5*time.Second)
	m.sleep = func(time.Duration) {}
	return m
}

func TestTryAcquireOnFreeResource(t *testing.T) {
	m := newTestManager(newMemStore(), "worker-a")

	res, err := m.TryAcquire(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !res.Acquired {
		t.Fatal("free resource not acquired")
	}
	if res.StaleLockReleased {
		t.Error("StaleLockReleased set on clean acquire")
	}
	if res.Lease == nil || res.Lease.HolderID != "worker-a" {
		t.Errorf("lease = %+v, want holder worker-a", res.Lease)
	}
}

func TestTryAcquireOnUnexpiredForeignLock(t *testing.T) {
	store := newMemStore()
	store.leases["session-1"] = models.Lease{
		ID:         "l1",
		ResourceID: "session-1",
		HolderID:   "worker-b",
		AcquiredAt: time.Now().UTC().Add(-30 * time.Second),
	}
	m := newTestManager(store, "worker-a")

	res, err := m.TryAcquire(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if res.Acquired {
		t.Fatal("acquired over an unexpired foreign lease")
	}
	if res.Holder != "worker-b" {
		t.Errorf("holder = %s, want worker-b", res.Holder)
	}
	if res.Age < 29*time.Second {
		t.Errorf("age = %v, want about 30s", res.Age)
	}
}

func TestTryAcquireReclaimsStaleLock(t *testing.T) {
	store := newMemStore()
	store.leases["session-1"] = models.Lease{
		ID:         "l1",
		ResourceID: "session-1",
		HolderID:   "worker-b",
		AcquiredAt: time.Now().UTC().Add(-700 * time.Second),
	}
	m := newTestManager(store, "worker-a")

	res, err := m.TryAcquire(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !res.Acquired {
		t.Fatal("stale lease not reclaimed")
	}
	if !res.StaleLockReleased {
		t.Error("StaleLockReleased not reported")
	}
	if got := store.leases["session-1"].HolderID; got != "worker-a" {
		t.Errorf("lease holder after reclaim = %s, want worker-a", got)
	}
}

func TestTryAcquireSleepsBoundedJitter(t *testing.T) {
	var slept time.Duration
	m := NewManager(newMemStore(), "worker-a", 600*time.Second, 5*time.Second)
	m.sleep = func(d time.Duration) { slept = d }

	if _, err := m.TryAcquire(context.Background(), "session-1"); err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if slept < 0 || slept >= 5*time.Second {
		t.Errorf("jitter sleep = %v, want in [0, 5s)", slept)
	}
}

func TestReleaseIsUnconditional(t *testing.T) {
	store := newMemStore()
	store.leases["session-1"] = models.Lease{
		ID:         "l1",
		ResourceID: "session-1",
		HolderID:   "worker-b",
		AcquiredAt: time.Now().UTC(),
	}
	m := newTestManager(store, "worker-a")

	// Releasing a resource held by someone else still removes it; the
	// protocol trusts callers to release only their own acquisitions.
	if err := m.Release(context.Background(), "session-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, ok := store.leases["session-1"]; ok {
		t.Error("lease still present after Release")
	}

	// Releasing an unheld resource is a no-op, not an error.
	if err := m.Release(context.Background(), "session-1"); err != nil {
		t.Errorf("Release on unheld resource failed: %v", err)
	}
}

func TestStatusReportsHolderAndStaleness(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, "worker-a")

	st, err := m.Status(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Locked {
		t.Error("unheld resource reported locked")
	}

	store.leases["session-1"] = models.Lease{
		ID:         "l1",
		ResourceID: "session-1",
		HolderID:   "worker-b",
		AcquiredAt: time.Now().UTC().Add(-700 * time.Second),
	}
	st, err = m.Status(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Locked || st.Holder != "worker-b" {
		t.Errorf("status = %+v, want locked by worker-b", st)
	}
	if !st.Stale {
		t.Error("700s-old lease not reported stale")
	}
}

func TestContextCancelledBeforeAcquire(t *testing.T) {
	m := newTestManager(newMemStore(), "worker-a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.TryAcquire(ctx, "session-1"); err == nil {
		t.Error("expected error from cancelled context")
	}
}
