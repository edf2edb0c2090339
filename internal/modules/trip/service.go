// README: Trip service; traveller-owned trip creation, edits and status changes.
package trip

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"handoff/internal/infra"
	"handoff/internal/types"
)

type Service struct {
	db     *pgxpool.Pool
	store  *Store
	ledger *Ledger
	log    *zap.Logger
	now    func() time.Time
}

func NewService(db *pgxpool.Pool, log *zap.Logger) *Service {
	return &Service{db: db, store: NewStore(db), ledger: NewLedger(db), log: log, now: time.Now}
}

type CreateCommand struct {
	TravellerID       types.ID
	Source            string
	Destination       string
	TransportMode     TransportMode
	DepartureAt       time.Time
	ArrivalAt         time.Time
	TotalSlots        int
	AllowedCategories []string
	PNRNumber         string
	TicketFileURL     string
	Notes             *string
}

// UpdateCommand carries optional edits; nil fields are left unchanged.
type UpdateCommand struct {
	TripID            types.ID
	ActorID           types.ID
	Source            *string
	Destination       *string
	TransportMode     *TransportMode
	DepartureAt       *time.Time
	ArrivalAt         *time.Time
	TotalSlots        *int
	AllowedCategories []string
	PNRNumber         *string
	TicketFileURL     *string
	Notes             *string
}

type UpdateStatusCommand struct {
	TripID  types.ID
	ActorID types.ID
	Status  Status
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	now := s.now()
	t := &Trip{
		ID:                types.NewID(),
		TravellerID:       cmd.TravellerID,
		Source:            strings.TrimSpace(cmd.Source),
		Destination:       strings.TrimSpace(cmd.Destination),
		TransportMode:     cmd.TransportMode,
		DepartureAt:       cmd.DepartureAt,
		ArrivalAt:         cmd.ArrivalAt,
		TotalSlots:        cmd.TotalSlots,
		AvailableSlots:    cmd.TotalSlots,
		AllowedCategories: normalizeCategories(cmd.AllowedCategories),
		PNRNumber:         strings.TrimSpace(cmd.PNRNumber),
		TicketFileURL:     strings.TrimSpace(cmd.TicketFileURL),
		Notes:             cmd.Notes,
		Status:            StatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if cmd.TravellerID == "" {
		return nil, fmt.Errorf("%w: traveller id required", ErrBadRequest)
	}
	if err := validateTrip(t); err != nil {
		return nil, err
	}
	if err := departsAfter(t, now); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("trip created",
		zap.String("trip_id", string(t.ID)),
		zap.String("traveller_id", string(t.TravellerID)),
		zap.Int("total_slots", t.TotalSlots),
	)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListOpen(ctx context.Context, f ListFilter) ([]Trip, error) {
	if f.DepartAfter.IsZero() {
		f.DepartAfter = s.now()
	}
	return s.store.ListOpen(ctx, f)
}

func (s *Service) ListByTraveller(ctx context.Context, travellerID types.ID) ([]Trip, error) {
	return s.store.ListByTraveller(ctx, travellerID)
}

// Update applies edits to an open or in-progress trip. Changing total_slots goes through
// the ledger. Departure is frozen while any slot is reserved, since accepted requests
// measure their cancellation window against it.
func (s *Service) Update(ctx context.Context, cmd UpdateCommand) (*Trip, error) {
	var updated *Trip
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		store := s.store.WithTx(tx)
		t, err := store.GetForUpdate(ctx, cmd.TripID)
		if err != nil {
			return err
		}
		if t.TravellerID != cmd.ActorID {
			return ErrForbidden
		}
		if t.Status != StatusOpen && t.Status != StatusInProgress {
			return ErrInvalidState
		}
		departureChanged := cmd.DepartureAt != nil && !cmd.DepartureAt.Equal(t.DepartureAt)
		if departureChanged && t.ReservedSlots() > 0 {
			return fmt.Errorf("%w: departure cannot change while %d slots are reserved", ErrInvalidState, t.ReservedSlots())
		}
		if err := applyUpdate(t, cmd); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		if err := validateTrip(t); err != nil {
			return err
		}
		if departureChanged {
			if err := departsAfter(t, s.now()); err != nil {
				return err
			}
		}
		if err := store.Update(ctx, t); err != nil {
			return err
		}
		if cmd.TotalSlots != nil {
			available, err := s.ledger.WithTx(tx).Resize(ctx, t.ID, *cmd.TotalSlots)
			if err != nil {
				return err
			}
			t.TotalSlots, t.AvailableSlots = *cmd.TotalSlots, available
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("trip updated", zap.String("trip_id", string(updated.ID)))
	return updated, nil
}

// applyUpdate copies the descriptive fields. Slot counts are left to the ledger.
func applyUpdate(t *Trip, cmd UpdateCommand) error {
	if cmd.Source != nil {
		t.Source = strings.TrimSpace(*cmd.Source)
	}
	if cmd.Destination != nil {
		t.Destination = strings.TrimSpace(*cmd.Destination)
	}
	if cmd.TransportMode != nil {
		t.TransportMode = *cmd.TransportMode
	}
	if cmd.DepartureAt != nil {
		t.DepartureAt = *cmd.DepartureAt
	}
	if cmd.ArrivalAt != nil {
		t.ArrivalAt = *cmd.ArrivalAt
	}
	if cmd.AllowedCategories != nil {
		t.AllowedCategories = normalizeCategories(cmd.AllowedCategories)
	}
	if cmd.PNRNumber != nil {
		t.PNRNumber = strings.TrimSpace(*cmd.PNRNumber)
	}
	if cmd.TicketFileURL != nil {
		t.TicketFileURL = strings.TrimSpace(*cmd.TicketFileURL)
	}
	if cmd.Notes != nil {
		t.Notes = cmd.Notes
	}
	if cmd.TotalSlots != nil && *cmd.TotalSlots < 1 {
		return fmt.Errorf("%w: total slots must be at least 1", ErrBadRequest)
	}
	return nil
}

// UpdateStatus lets the owner complete or cancel a trip. Requests on the trip are left as they are.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) error {
	if !OwnerSettable(cmd.Status) {
		return fmt.Errorf("%w: status %q cannot be set directly", ErrBadRequest, cmd.Status)
	}
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if t.TravellerID != cmd.ActorID {
		return ErrForbidden
	}
	if !CanTransition(t.Status, cmd.Status) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, cmd.TripID, []Status{StatusOpen, StatusInProgress}, cmd.Status)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}
	s.log.Info("trip status changed",
		zap.String("trip_id", string(cmd.TripID)),
		zap.String("from", string(t.Status)),
		zap.String("to", string(cmd.Status)),
	)
	return nil
}

// Delete is a soft delete: the trip is cancelled.
func (s *Service) Delete(ctx context.Context, tripID, actorID types.ID) error {
	return s.UpdateStatus(ctx, UpdateStatusCommand{TripID: tripID, ActorID: actorID, Status: StatusCancelled})
}

func validateTrip(t *Trip) error {
	switch {
	case t.Source == "" || t.Destination == "":
		return fmt.Errorf("%w: source and destination required", ErrBadRequest)
	case !t.TransportMode.Valid():
		return fmt.Errorf("%w: unknown transport mode %q", ErrBadRequest, t.TransportMode)
	case t.DepartureAt.IsZero() || t.ArrivalAt.IsZero():
		return fmt.Errorf("%w: departure and arrival required", ErrBadRequest)
	case t.ArrivalAt.Before(t.DepartureAt):
		return fmt.Errorf("%w: arrival before departure", ErrBadRequest)
	case t.TotalSlots < 1:
		return fmt.Errorf("%w: total slots must be at least 1", ErrBadRequest)
	case len(t.AllowedCategories) == 0:
		return fmt.Errorf("%w: at least one allowed category required", ErrBadRequest)
	}
	return nil
}

// departsAfter applies only to new trips and to a changed departure; a trip already
// under way keeps its past departure.
func departsAfter(t *Trip, now time.Time) error {
	if !t.DepartureAt.After(now) {
		return fmt.Errorf("%w: departure must be in the future", ErrBadRequest)
	}
	return nil
}

func normalizeCategories(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
