// Package lock serializes sessions on a shared resource through an
// explicit lease. At most one harness invocation works on a session at a
// time; a crashed holder's lease goes stale and is reclaimed after a
// timeout rather than wedging the session forever.
package lock

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/warden/internal/models"
)

// Manager acquires and releases leases on behalf of one holder.
type Manager struct {
	store    Store
	holderID string
	timeout  time.Duration
	jitter   time.Duration

	// sleep and randDelay are injection points for tests.
	sleep     func(time.Duration)
	randDelay func(time.Duration) time.Duration
}

// AcquireResult reports the outcome of one TryAcquire call.
type AcquireResult struct {
	Acquired bool
	// StaleLockReleased is set when an expired foreign lease was cleared
	// on the way to acquiring.
	StaleLockReleased bool
	// Holder and Age describe the competing lease when Acquired is false.
	Holder string
	Age    time.Duration
	Lease  *models.Lease
}

// Status describes the current lease on a resource.
type Status struct {
	Locked bool
	Holder string
	Age    time.Duration
	Stale  bool
}

// NewManager builds a manager. holderID identifies this process in lease
// records; a generated UUID suffix keeps two invocations on the same host
// distinguishable.
func NewManager(store Store, holderID string, timeout, jitterMax time.Duration) *Manager {
	if holderID == "" {
		holderID = "warden-" + uuid.New().String()[:8]
	}
	return &Manager{
		store:    store,
		holderID: holderID,
		timeout:  timeout,
		jitter:   jitterMax,
		sleep:    time.Sleep,
		randDelay: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// HolderID returns the identity used in lease records.
func (m *Manager) HolderID() string {
	return m.holderID
}

// TryAcquire attempts to take the lease on resourceID. It sleeps a random
// jitter first so near-simultaneous callers spread out, then inserts a
// lease. A competing lease older than the timeout is treated as abandoned:
// it is released and acquisition is retried exactly once.
func (m *Manager) TryAcquire(ctx context.Context, resourceID string) (*AcquireResult, error) {
	m.sleep(m.randDelay(m.jitter))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := m.insert(ctx, resourceID)
	if err != nil || result.Acquired {
		return result, err
	}

	existing, err := m.store.Get(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("inspect competing lease: %w", err)
	}
	if existing == nil {
		// Released between our insert attempt and the lookup.
		return m.insert(ctx, resourceID)
	}

	now := time.Now().UTC()
	if !existing.Expired(now, m.timeout) {
		return &AcquireResult{
			Holder: existing.HolderID,
			Age:    existing.Age(now),
		}, nil
	}

	log.Printf("lock: releasing stale lease on %s held by %s for %s",
		resourceID, existing.HolderID, existing.Age(now).Round(time.Second))
	if err := m.store.Delete(ctx, resourceID); err != nil {
		return nil, fmt.Errorf("release stale lease: %w", err)
	}

	result, err = m.insert(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	result.StaleLockReleased = true
	return result, nil
}

func (m *Manager) insert(ctx context.Context, resourceID string) (*AcquireResult, error) {
	lease := models.Lease{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		HolderID:   m.holderID,
		AcquiredAt: time.Now().UTC(),
	}
	err := m.store.Insert(ctx, lease)
	if err == ErrHeld {
		return &AcquireResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	return &AcquireResult{Acquired: true, Lease: &lease}, nil
}

// Release removes the lease unconditionally. The protocol trusts callers
// to release only what they acquired; Release after a failed acquire is
// the caller's bug, not something the store can distinguish.
func (m *Manager) Release(ctx context.Context, resourceID string) error {
	return m.store.Delete(ctx, resourceID)
}

// Status reports the current lease without modifying it.
func (m *Manager) Status(ctx context.Context, resourceID string) (*Status, error) {
	existing, err := m.store.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return &Status{}, nil
	}
	now := time.Now().UTC()
	return &Status{
		Locked: true,
		Holder: existing.HolderID,
		Age:    existing.Age(now),
		Stale:  existing.Expired(now, m.timeout),
	}, nil
}
