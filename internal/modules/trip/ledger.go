// README: Slot ledger; reserves and releases trip capacity with conditional updates.
package trip

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"handoff/internal/infra"
	"handoff/internal/types"
)

// Ledger owns available_slots. Every change is a single conditional UPDATE so
// concurrent acceptances can never drive the count below zero.
type Ledger struct {
	db    infra.DBTX
	store *Store
}

func NewLedger(db infra.DBTX) *Ledger {
	return &Ledger{db: db, store: NewStore(db)}
}

func (l *Ledger) WithTx(tx pgx.Tx) *Ledger {
	return NewLedger(tx)
}

// Reserve takes one slot and marks the trip in progress.
func (l *Ledger) Reserve(ctx context.Context, tripID types.ID) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE trips
		SET available_slots = available_slots - 1,
		    status = 'in_progress',
		    updated_at = NOW()
		WHERE id = $1
		  AND status IN ('open', 'in_progress')
		  AND available_slots > 0`,
		string(tripID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	t, err := l.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.Status != StatusOpen && t.Status != StatusInProgress {
		return ErrTripNotOpen
	}
	return ErrNoSlotsAvailable
}

// Release returns one slot, capped at total_slots. A trip with nothing reserved reopens.
func (l *Ledger) Release(ctx context.Context, tripID types.ID) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE trips
		SET available_slots = LEAST(available_slots + 1, total_slots),
		    status = CASE
		        WHEN status = 'in_progress' AND available_slots + 1 >= total_slots THEN 'open'
		        ELSE status
		    END,
		    updated_at = NOW()
		WHERE id = $1`,
		string(tripID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Resize sets total_slots and shifts available_slots by the same delta. It refuses
// a total below the slots already reserved.
func (l *Ledger) Resize(ctx context.Context, tripID types.ID, total int) (int, error) {
	if total < 1 {
		return 0, fmt.Errorf("%w: total slots must be at least 1", ErrBadRequest)
	}
	var available int
	err := l.db.QueryRow(ctx, `
		UPDATE trips
		SET available_slots = available_slots + ($2 - total_slots),
		    total_slots = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status IN ('open', 'in_progress')
		  AND total_slots - available_slots <= $2
		RETURNING available_slots`,
		string(tripID), total,
	).Scan(&available)
	if err == nil {
		return available, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	t, err := l.store.Get(ctx, tripID)
	if err != nil {
		return 0, err
	}
	if t.Status != StatusOpen && t.Status != StatusInProgress {
		return 0, ErrInvalidState
	}
	return 0, fmt.Errorf("%w: %d slots already reserved", ErrBadRequest, t.ReservedSlots())
}
