package idempotency

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/types"
)

// RecordStatus classifies a completed fingerprint.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
	RecordCancelled RecordStatus = "cancelled"
)

// Record is the durable completion record a released lease leaves behind.
// Only completed records are served from Lookup; failed and cancelled
// records exist so the history is inspectable, never to short-circuit work.
type Record struct {
	Fingerprint string            `json:"fingerprint" firestore:"fingerprint"`
	Status      RecordStatus      `json:"status" firestore:"status"`
	Result      *types.TaskResult `json:"result,omitempty" firestore:"result,omitempty"`
	ErrorCode   string            `json:"errorCode,omitempty" firestore:"errorCode,omitempty"`
	CompletedAt time.Time         `json:"completedAt" firestore:"completedAt"`
}

// Lease grants its holder exclusive execution rights for one fingerprint
// until released or expired.
type Lease struct {
	ID          string
	Fingerprint string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

type leaseEntry struct {
	lease  *Lease
	done   chan struct{}
	record *Record
}

// Guard guarantees at-most-one concurrent execution per fingerprint. All
// mutation is behind its own lock; unrelated fingerprints never contend on
// anything but the map itself.
type Guard struct {
	store    store.Store
	leaseTTL time.Duration

	mu     sync.Mutex
	active map[string]*leaseEntry
}

// NewGuard creates a Guard persisting completion records through st.
// leaseTTL bounds how long a crashed holder can wedge a fingerprint.
func NewGuard(st store.Store, leaseTTL time.Duration) *Guard {
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	return &Guard{
		store:    st,
		leaseTTL: leaseTTL,
		active:   make(map[string]*leaseEntry),
	}
}

// Acquire atomically claims the fingerprint. Exactly one caller succeeds
// while a lease is outstanding; everyone else gets ErrDuplicateInProgress.
// An expired lease is reclaimed here, not cached as anything.
func (g *Guard) Acquire(ctx context.Context, fingerprint string) (*Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, held := g.active[fingerprint]; held {
		if time.Now().Before(entry.lease.ExpiresAt) {
			return nil, errors.Newf(errors.ErrDuplicateInProgress,
				"fingerprint %s is already executing", fingerprint).
				WithContext("fingerprint", fingerprint)
		}
		// Holder crashed without releasing; unblock any waiters with a
		// lease-expired record and reclaim the slot.
		log.Printf("Reclaiming expired lease %s for fingerprint %s", entry.lease.ID, fingerprint)
		entry.record = &Record{
			Fingerprint: fingerprint,
			Status:      RecordFailed,
			ErrorCode:   errors.ErrLeaseExpired,
			CompletedAt: time.Now(),
		}
		close(entry.done)
	}

	now := time.Now()
	lease := &Lease{
		ID:          uuid.New().String(),
		Fingerprint: fingerprint,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(g.leaseTTL),
	}
	g.active[fingerprint] = &leaseEntry{
		lease: lease,
		done:  make(chan struct{}),
	}

	return lease, nil
}

// Release converts the lease into a durable record and wakes every waiter.
// Releasing a lease that already expired and was reclaimed returns
// ErrLeaseExpired; the caller's result is discarded rather than cached.
func (g *Guard) Release(ctx context.Context, lease *Lease, record Record) error {
	record.Fingerprint = lease.Fingerprint
	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now()
	}

	g.mu.Lock()
	entry, held := g.active[lease.Fingerprint]
	if !held || entry.lease.ID != lease.ID {
		g.mu.Unlock()
		return errors.Newf(errors.ErrLeaseExpired,
			"lease %s for fingerprint %s expired before release", lease.ID, lease.Fingerprint)
	}
	entry.record = &record
	close(entry.done)
	delete(g.active, lease.Fingerprint)
	g.mu.Unlock()

	// Durable record so later Lookups survive process restarts. Failed
	// and cancelled releases are recorded too but never served as hits.
	if err := g.store.SetDoc(ctx, recordPath(lease.Fingerprint), record); err != nil {
		return fmt.Errorf("failed to persist idempotency record: %w", err)
	}

	return nil
}

// Lookup returns the completed result for the fingerprint if one exists
// and is no older than maxAge. maxAge <= 0 means results are never reused.
func (g *Guard) Lookup(ctx context.Context, fingerprint string, maxAge time.Duration) (*Record, bool, error) {
	if maxAge <= 0 {
		return nil, false, nil
	}

	var record Record
	err := g.store.GetDoc(ctx, recordPath(fingerprint), &record)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, errors.ErrStoreUnavailable)
	}

	if record.Status != RecordCompleted {
		return nil, false, nil
	}
	if time.Since(record.CompletedAt) > maxAge {
		return nil, false, nil
	}

	return &record, true, nil
}

// Await blocks until the outstanding lease for the fingerprint is released
// and returns its record. Used by callers that received
// ErrDuplicateInProgress and chose to attach rather than fail fast.
func (g *Guard) Await(ctx context.Context, fingerprint string) (*Record, error) {
	g.mu.Lock()
	entry, held := g.active[fingerprint]
	g.mu.Unlock()

	if !held {
		return nil, errors.Newf(errors.ErrDuplicateInProgress,
			"no outstanding lease for fingerprint %s", fingerprint)
	}

	select {
	case <-entry.done:
		if entry.record == nil {
			return nil, errors.Newf(errors.ErrLeaseExpired,
				"lease for fingerprint %s ended without a record", fingerprint)
		}
		return entry.record, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrCancelled)
	}
}

// Held reports whether a live lease currently exists for the fingerprint.
func (g *Guard) Held(fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, held := g.active[fingerprint]
	return held && time.Now().Before(entry.lease.ExpiresAt)
}

func recordPath(fingerprint string) string {
	return "fingerprints/" + fingerprint
}
