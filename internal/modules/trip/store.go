// README: Trip store backed by PostgreSQL.
package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"handoff/internal/infra"
	"handoff/internal/types"
)

const tripColumns = `
	id, traveller_id, source, destination, transport_mode,
	departure_at, arrival_at, total_slots, available_slots, allowed_categories,
	pnr_number, ticket_file_url, notes, status, created_at, updated_at`

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

func (s *Store) Create(ctx context.Context, t *Trip) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (`+tripColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(t.ID), string(t.TravellerID), t.Source, t.Destination, string(t.TransportMode),
		t.DepartureAt, t.ArrivalAt, t.TotalSlots, t.AvailableSlots, t.AllowedCategories,
		t.PNRNumber, t.TicketFileURL, t.Notes, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.get(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
}

// GetForUpdate locks the trip row until the surrounding transaction ends.
func (s *Store) GetForUpdate(ctx context.Context, id types.ID) (*Trip, error) {
	return s.get(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) get(ctx context.Context, query string, id types.ID) (*Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) ListOpen(ctx context.Context, f ListFilter) ([]Trip, error) {
	where := []string{"status = 'open'", "available_slots > 0"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Source != "" {
		add("source ILIKE $%d", f.Source)
	}
	if f.Destination != "" {
		add("destination ILIKE $%d", f.Destination)
	}
	if f.Category != "" {
		add("$%d = ANY(allowed_categories)", f.Category)
	}
	if !f.DepartAfter.IsZero() {
		add("departure_at > $%d", f.DepartAfter)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := `SELECT ` + tripColumns + ` FROM trips WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY departure_at ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.list(ctx, query, args...)
}

func (s *Store) ListByTraveller(ctx context.Context, travellerID types.ID) ([]Trip, error) {
	return s.list(ctx, `SELECT `+tripColumns+` FROM trips WHERE traveller_id = $1 ORDER BY departure_at DESC`, string(travellerID))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Trip, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// Update writes the descriptive fields. Slot counts belong to the Ledger.
func (s *Store) Update(ctx context.Context, t *Trip) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips
		SET source = $2, destination = $3, transport_mode = $4,
		    departure_at = $5, arrival_at = $6, allowed_categories = $7,
		    pnr_number = $8, ticket_file_url = $9, notes = $10, updated_at = $11
		WHERE id = $1`,
		string(t.ID), t.Source, t.Destination, string(t.TransportMode),
		t.DepartureAt, t.ArrivalAt, t.AllowedCategories,
		t.PNRNumber, t.TicketFileURL, t.Notes, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves the trip to `to` only if its current status is one of `from`.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from []Status, to Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE trips
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		string(id), string(to), fromStrs,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	err := row.Scan(
		&t.ID, &t.TravellerID, &t.Source, &t.Destination, &t.TransportMode,
		&t.DepartureAt, &t.ArrivalAt, &t.TotalSlots, &t.AvailableSlots, &t.AllowedCategories,
		&t.PNRNumber, &t.TicketFileURL, &t.Notes, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
