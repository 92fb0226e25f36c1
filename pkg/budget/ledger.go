// Package budget enforces per-client cost quotas. Reservation is the
// admission-control gate every paid agent call passes through; it fails
// closed, so a denied reservation means the call never happens.
package budget

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

// Reservation holds admitted-but-uncommitted units for one client.
type Reservation struct {
	ID       string
	ClientID string
	Period   string
	Units    int64

	settled bool
}

// entry is one client-period's ledger state. All fields are guarded by mu;
// the lock is per client, so unrelated clients never contend.
type entry struct {
	mu       sync.Mutex
	loaded   bool
	spent    int64
	reserved int64
	limit    int64
}

// Ledger tracks running spend per client and period.
type Ledger struct {
	store        store.Store
	defaultLimit int64

	mu      sync.Mutex
	entries map[string]*entry // keyed clientID + "|" + period
}

// persisted is the document shape at clients/{id}/budget/{period}.
type persisted struct {
	ClientID   string    `json:"clientId" firestore:"clientId"`
	Period     string    `json:"period" firestore:"period"`
	SpentUnits int64     `json:"spentUnits" firestore:"spentUnits"`
	LimitUnits int64     `json:"limitUnits" firestore:"limitUnits"`
	UpdatedAt  time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// NewLedger creates a Ledger persisting through st. defaultLimit applies
// to clients with no stored budget document for the current period.
func NewLedger(st store.Store, defaultLimit int64) *Ledger {
	return &Ledger{
		store:        st,
		defaultLimit: defaultLimit,
		entries:      make(map[string]*entry),
	}
}

// CurrentPeriod returns the billing period key for now (monthly).
func CurrentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

// Reserve admits estimatedUnits against the client's current period budget.
// It returns ErrBudgetExhausted when spend plus outstanding reservations
// plus the estimate would exceed the limit.
func (l *Ledger) Reserve(ctx context.Context, clientID string, estimatedUnits int64) (*Reservation, error) {
	if estimatedUnits < 0 {
		return nil, errors.Newf(errors.ErrInvalidInput, "negative reservation: %d", estimatedUnits)
	}

	period := CurrentPeriod()
	e := l.entry(clientID, period)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.ensureLoaded(ctx, e, clientID, period); err != nil {
		return nil, err
	}

	// Admission gates on the spend already on the books: once spend plus
	// outstanding reservations reaches the limit, nothing else is
	// admitted. The final admitted call may overshoot by its own
	// estimate, which commit reconciles.
	if e.spent+e.reserved >= e.limit {
		return nil, errors.Newf(errors.ErrBudgetExhausted,
			"client %s: %d spent + %d reserved has reached limit %d for period %s",
			clientID, e.spent, e.reserved, e.limit, period).
			WithContext("clientId", clientID).
			WithContext("period", period)
	}

	e.reserved += estimatedUnits

	return &Reservation{
		ID:       uuid.New().String(),
		ClientID: clientID,
		Period:   period,
		Units:    estimatedUnits,
	}, nil
}

// Commit settles the reservation at its actual cost and persists the
// updated ledger entry.
func (l *Ledger) Commit(ctx context.Context, res *Reservation, actualUnits int64) error {
	if res == nil {
		return errors.New(errors.ErrInvalidInput, "nil reservation")
	}
	if actualUnits < 0 {
		actualUnits = 0
	}

	e := l.entry(res.ClientID, res.Period)

	e.mu.Lock()
	defer e.mu.Unlock()

	if res.settled {
		return errors.Newf(errors.ErrInvalidInput, "reservation %s already settled", res.ID)
	}
	res.settled = true

	e.reserved -= res.Units
	if e.reserved < 0 {
		e.reserved = 0
	}
	e.spent += actualUnits

	if actualUnits > res.Units {
		log.Printf("Budget commit for client %s exceeded estimate: %d actual vs %d reserved",
			res.ClientID, actualUnits, res.Units)
	}

	return l.persist(ctx, e, res.ClientID, res.Period)
}

// Cancel releases the reservation without charging it.
func (l *Ledger) Cancel(res *Reservation) {
	if res == nil {
		return
	}

	e := l.entry(res.ClientID, res.Period)

	e.mu.Lock()
	defer e.mu.Unlock()

	if res.settled {
		return
	}
	res.settled = true

	e.reserved -= res.Units
	if e.reserved < 0 {
		e.reserved = 0
	}
}

// Status returns the client's current-period spend and limit.
func (l *Ledger) Status(ctx context.Context, clientID string) (*types.BudgetStatus, error) {
	period := CurrentPeriod()
	e := l.entry(clientID, period)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.ensureLoaded(ctx, e, clientID, period); err != nil {
		return nil, err
	}

	return &types.BudgetStatus{
		ClientID:      clientID,
		Period:        period,
		SpentUnits:    e.spent,
		ReservedUnits: e.reserved,
		LimitUnits:    e.limit,
	}, nil
}

// entry returns the ledger entry for the client-period, creating it on
// first use. Only the map lookup itself takes the ledger-wide lock.
func (l *Ledger) entry(clientID, period string) *entry {
	key := clientID + "|" + period

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

// ensureLoaded hydrates the entry from the store on first touch. Callers
// hold e.mu.
func (l *Ledger) ensureLoaded(ctx context.Context, e *entry, clientID, period string) error {
	if e.loaded {
		return nil
	}

	var doc persisted
	err := l.store.GetDoc(ctx, budgetPath(clientID, period), &doc)
	switch {
	case err == nil:
		e.spent = doc.SpentUnits
		e.limit = doc.LimitUnits
	case store.IsNotFound(err):
		e.limit = l.defaultLimit
	default:
		return errors.Wrap(err, errors.ErrStoreUnavailable)
	}

	e.loaded = true
	return nil
}

// persist writes the entry back to the store. Callers hold e.mu, which
// keeps writes for one client ordered; clients never block each other.
func (l *Ledger) persist(ctx context.Context, e *entry, clientID, period string) error {
	doc := persisted{
		ClientID:   clientID,
		Period:     period,
		SpentUnits: e.spent,
		LimitUnits: e.limit,
		UpdatedAt:  time.Now(),
	}
	if err := l.store.SetDoc(ctx, budgetPath(clientID, period), doc); err != nil {
		return fmt.Errorf("failed to persist budget for client %s: %w", clientID, err)
	}
	return nil
}

func budgetPath(clientID, period string) string {
	return fmt.Sprintf("clients/%s/budget/%s", clientID, period)
}
