/*
ledger.go - Append-only attendance event log

PURPOSE:
  The Ledger is the source of truth for everything that happened in a day.
  Accepted punches, rejected punches and system corrections are all recorded.
  Day rollups are always computed by replaying it.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, events cannot be modified
  3. IDEMPOTENT: Same idempotency key (per org + account) = same event

SEE ALSO:
  - store.go: Low-level persistence interface
  - rollup.go: Replays DayEvents
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Ledger struct {
	Store EventStore
	Clock Clock
}

func NewLedger(store EventStore, clock Clock) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ledger{Store: store, Clock: clock}
}

// Append records an event. Missing ids and creation times are filled in.
// When the idempotency key is already used the stored event is returned
// with a *DuplicateEventError.
func (l *Ledger) Append(ctx context.Context, e Event) (Event, error) {
	if e.IdempotencyKey != "" {
		existing, found, err := l.Store.EventByIdempotencyKey(ctx, e.OrgID, e.AccountID, e.IdempotencyKey)
		if err != nil {
			return Event{}, fmt.Errorf("check idempotency key: %w", err)
		}
		if found {
			return existing, &DuplicateEventError{Key: e.IdempotencyKey, Existing: existing}
		}
	}

	if e.ID == "" {
		e.ID = EventID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.Clock.Now()
	}
	e.At = e.At.UTC()
	if e.Flags == nil {
		e.Flags = Flags{}
	}

	if err := l.Store.AppendEvent(ctx, e); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) && e.IdempotencyKey != "" {
			// Lost a race with a concurrent writer using the same key.
			existing, found, lookupErr := l.Store.EventByIdempotencyKey(ctx, e.OrgID, e.AccountID, e.IdempotencyKey)
			if lookupErr == nil && found {
				return existing, &DuplicateEventError{Key: e.IdempotencyKey, Existing: existing}
			}
		}
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	return e, nil
}

// DayEvents returns the events of one operational date, chronologically.
func (l *Ledger) DayEvents(ctx context.Context, org OrgID, account AccountID, date LocalDate, loc *time.Location) ([]Event, error) {
	start, end := date.Bounds(loc)
	events, err := l.Store.EventsInRange(ctx, org, account, start, end)
	if err != nil {
		return nil, fmt.Errorf("load events for %s/%s on %s: %w", org, account, date, err)
	}
	return sortEvents(events), nil
}
