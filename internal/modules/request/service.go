// README: Request lifecycle service; every transition runs in one transaction with the slot ledger and OTP rotation.
package request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"handoff/internal/infra"
	"handoff/internal/modules/trip"
	"handoff/internal/otp"
	"handoff/internal/types"
)

type CodeGenerator interface {
	Generate(ttl time.Duration) (otp.Code, error)
}

// Notifier receives post-commit status changes. Failures are logged and never roll back a transition.
type Notifier interface {
	NotifyStatusChange(ctx context.Context, n StatusNotification) error
}

type StatusNotification struct {
	RequestID   types.ID
	TripID      types.ID
	Status      Status
	RecipientID types.ID
	ActorRole   ActorRole
}

type Config struct {
	PickupOTPTTL   time.Duration
	DeliveryOTPTTL time.Duration
	CancelWindow   time.Duration
	RequiredPhotos int
}

type Service struct {
	db       *pgxpool.Pool
	store    *Store
	trips    *trip.Store
	ledger   *trip.Ledger
	codes    CodeGenerator
	notifier Notifier
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

func NewService(db *pgxpool.Pool, cfg Config, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		db:       db,
		store:    NewStore(db),
		trips:    trip.NewStore(db),
		ledger:   trip.NewLedger(db),
		codes:    otp.NewGenerator(),
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type CreateCommand struct {
	TripID               types.ID
	SenderID             types.ID
	ItemDescription      string
	Category             string
	ParcelPhotos         []string
	DeliveryContactName  string
	DeliveryContactPhone string
	SenderNotes          string
}

type AcceptCommand struct {
	RequestID   types.ID
	TravellerID types.ID
	Notes       string
}

type RejectCommand struct {
	RequestID   types.ID
	TravellerID types.ID
	Reason      string
}

type CancelCommand struct {
	RequestID types.ID
	ActorID   types.ID
	Reason    string
}

type VerifyCommand struct {
	RequestID types.ID
	ActorID   types.ID
	Code      string
}

type RegenerateCommand struct {
	RequestID types.ID
	ActorID   types.ID
}

type UpdateReceiverCommand struct {
	RequestID types.ID
	SenderID  types.ID
	Name      string
	Phone     string
}

type UpdateDetailsCommand struct {
	RequestID       types.ID
	SenderID        types.ID
	ItemDescription string
	Category        string
	ParcelPhotos    []string
}

type AcceptResult struct {
	RequestID       types.ID
	Status          Status
	PickupOTP       string
	PickupOTPExpiry time.Time
}

// PickupResult carries the delivery code only when the caller is the sender.
type PickupResult struct {
	RequestID         types.ID
	Status            Status
	DeliveryOTP       *string
	DeliveryOTPExpiry *time.Time
}

type DeliveryResult struct {
	RequestID   types.ID
	Status      Status
	DeliveredAt time.Time
}

type OTPResult struct {
	RequestID types.ID
	Code      string
	ExpiresAt time.Time
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	if cmd.TripID == "" || cmd.SenderID == "" {
		return nil, fmt.Errorf("%w: trip and sender required", ErrBadRequest)
	}
	if err := validateItem(cmd.ItemDescription, cmd.Category); err != nil {
		return nil, err
	}
	if err := validatePhotos(cmd.ParcelPhotos, s.cfg.RequiredPhotos); err != nil {
		return nil, err
	}
	phone, err := validateReceiver(cmd.DeliveryContactName, cmd.DeliveryContactPhone)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &Request{
		ID:                   types.NewID(),
		TripID:               cmd.TripID,
		SenderID:             cmd.SenderID,
		ItemDescription:      strings.TrimSpace(cmd.ItemDescription),
		Category:             normalizeCategory(cmd.Category),
		ParcelPhotos:         trimAll(cmd.ParcelPhotos),
		DeliveryContactName:  strings.TrimSpace(cmd.DeliveryContactName),
		DeliveryContactPhone: phone,
		SenderNotes:          trimmedPtr(cmd.SenderNotes),
		Status:               StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	var t *trip.Trip
	err = infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		t, err = s.trips.WithTx(tx).Get(ctx, cmd.TripID)
		if err != nil {
			return err
		}
		switch {
		case t.TravellerID == cmd.SenderID:
			return fmt.Errorf("%w: cannot send a parcel on your own trip", ErrBadRequest)
		case t.Status != trip.StatusOpen:
			return trip.ErrTripNotOpen
		case t.AvailableSlots <= 0:
			return trip.ErrNoSlotsAvailable
		case !t.AllowsCategory(r.Category):
			return fmt.Errorf("%w: category %q not accepted on this trip", ErrBadRequest, r.Category)
		}
		store := s.store.WithTx(tx)
		if err := store.Create(ctx, r); err != nil {
			return err
		}
		return store.AppendEvent(ctx, Event{
			RequestID:  r.ID,
			FromStatus: StatusNone,
			ToStatus:   StatusPending,
			ActorRole:  RoleSender,
			ActorID:    cmd.SenderID,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("request created",
		zap.String("request_id", string(r.ID)),
		zap.String("trip_id", string(r.TripID)),
		zap.String("sender_id", string(r.SenderID)),
	)
	s.notify(ctx, r, t, RoleSender)
	return r, nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*AcceptResult, error) {
	r, t, err := s.mutate(ctx, cmd.RequestID, func(tx pgx.Tx, r *Request, t *trip.Trip) (*Event, error) {
		if t.TravellerID != cmd.TravellerID {
			return nil, ErrForbidden
		}
		if !CanTransition(r.Status, StatusAccepted) {
			return nil, ErrInvalidState
		}
		if err := s.ledger.WithTx(tx).Reserve(ctx, t.ID); err != nil {
			return nil, err
		}
		code, err := s.codes.Generate(s.cfg.PickupOTPTTL)
		if err != nil {
			return nil, err
		}
		now := s.now()
		r.Status = StatusAccepted
		r.PickupOTP = &code.Value
		r.PickupOTPExpiry = &code.ExpiresAt
		r.AcceptedAt = &now
		if notes := trimmedPtr(cmd.Notes); notes != nil {
			r.TravellerNotes = notes
		}
		return &Event{ActorRole: RoleTraveller, ActorID: cmd.TravellerID}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, r, t, RoleTraveller)
	return &AcceptResult{
		RequestID:       r.ID,
		Status:          r.Status,
		PickupOTP:       *r.PickupOTP,
		PickupOTPExpiry: *r.PickupOTPExpiry,
	}, nil
}

func (s *Service) Reject(ctx context.Context, cmd RejectCommand) error {
	r, t, err := s.mutate(ctx, cmd.RequestID, func(_ pgx.Tx, r *Request, t *trip.Trip) (*Event, error) {
		if t.TravellerID != cmd.TravellerID {
			return nil, ErrForbidden
		}
		if !CanTransition(r.Status, StatusRejected) {
			return nil, ErrInvalidState
		}
		reason := trimmedPtr(cmd.Reason)
		r.Status = StatusRejected
		r.RejectionReason = reason
		return &Event{ActorRole: RoleTraveller, ActorID: cmd.TravellerID, Reason: reason}, nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, r, t, RoleTraveller)
	return nil
}

// Cancel withdraws a pending request (sender only) or an accepted one (either party,
// outside the departure window). Cancelling an accepted request returns its slot.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	var role ActorRole
	r, t, err := s.mutate(ctx, cmd.RequestID, func(tx pgx.Tx, r *Request, t *trip.Trip) (*Event, error) {
		var ok bool
		role, ok = r.RoleOf(cmd.ActorID, t.TravellerID)
		if !ok {
			return nil, ErrForbidden
		}
		switch r.Status {
		case StatusPending:
			if role != RoleSender {
				return nil, ErrForbidden
			}
		case StatusAccepted:
			if err := CheckCancellationWindow(t.DepartureAt, s.now(), s.cfg.CancelWindow); err != nil {
				return nil, err
			}
			if err := s.ledger.WithTx(tx).Release(ctx, t.ID); err != nil {
				return nil, err
			}
		default:
			return nil, ErrInvalidState
		}
		reason := trimmedPtr(cmd.Reason)
		r.Status = StatusCancelled
		r.CancelledBy = &role
		r.RejectionReason = reason
		r.PickupOTP = nil
		r.PickupOTPExpiry = nil
		return &Event{ActorRole: role, ActorID: cmd.ActorID, Reason: reason}, nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, r, t, role)
	return nil
}

// VerifyPickup consumes the pickup code and issues the delivery code.
func (s *Service) VerifyPickup(ctx context.Context, cmd VerifyCommand) (*PickupResult, error) {
	var role ActorRole
	r, t, err := s.mutate(ctx, cmd.RequestID, func(_ pgx.Tx, r *Request, t *trip.Trip) (*Event, error) {
		var ok bool
		role, ok = r.RoleOf(cmd.ActorID, t.TravellerID)
		if !ok {
			return nil, ErrForbidden
		}
		if r.Status != StatusAccepted {
			return nil, ErrInvalidState
		}
		if err := checkCode(cmd.Code, r.PickupOTP, r.PickupOTPExpiry, s.now()); err != nil {
			return nil, err
		}
		code, err := s.codes.Generate(s.cfg.DeliveryOTPTTL)
		if err != nil {
			return nil, err
		}
		now := s.now()
		r.Status = StatusPickedUp
		r.PickupOTP = nil
		r.PickupOTPExpiry = nil
		r.DeliveryOTP = &code.Value
		r.DeliveryOTPExpiry = &code.ExpiresAt
		r.PickedAt = &now
		return &Event{ActorRole: role, ActorID: cmd.ActorID}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, r, t, role)
	visible := r.VisibleTo(role)
	return &PickupResult{
		RequestID:         r.ID,
		Status:            r.Status,
		DeliveryOTP:       visible.DeliveryOTP,
		DeliveryOTPExpiry: visible.DeliveryOTPExpiry,
	}, nil
}

func (s *Service) VerifyDelivery(ctx context.Context, cmd VerifyCommand) (*DeliveryResult, error) {
	var role ActorRole
	r, t, err := s.mutate(ctx, cmd.RequestID, func(_ pgx.Tx, r *Request, t *trip.Trip) (*Event, error) {
		var ok bool
		role, ok = r.RoleOf(cmd.ActorID, t.TravellerID)
		if !ok {
			return nil, ErrForbidden
		}
		if r.Status != StatusPickedUp {
			return nil, ErrInvalidState
		}
		if err := checkCode(cmd.Code, r.DeliveryOTP, r.DeliveryOTPExpiry, s.now()); err != nil {
			return nil, err
		}
		now := s.now()
		r.Status = StatusDelivered
		r.DeliveryOTP = nil
		r.DeliveryOTPExpiry = nil
		r.DeliveredAt = &now
		return &Event{ActorRole: role, ActorID: cmd.ActorID}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, r, t, role)
	return &DeliveryResult{RequestID: r.ID, Status: r.Status, DeliveredAt: *r.DeliveredAt}, nil
}

// RegeneratePickupOTP replaces the pickup code while the request is accepted.
func (s *Service) RegeneratePickupOTP(ctx context.Context, cmd RegenerateCommand) (*OTPResult, error) {
	r, _, err := s.mutate(ctx, cmd.RequestID, func(_ pgx.Tx, r *Request, t *trip.Trip) (*Event, error) {
		if _, ok := r.RoleOf(cmd.ActorID, t.TravellerID); !ok {
			return nil, ErrForbidden
		}
		if r.Status != StatusAccepted {
			return nil, ErrInvalidState
		}
		code, err := s.codes.Generate(s.cfg.PickupOTPTTL)
		if err != nil {
			return nil, err
		}
		r.PickupOTP = &code.Value
		r.PickupOTPExpiry = &code.ExpiresAt
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("pickup otp regenerated", zap.String("request_id", string(r.ID)))
	return &OTPResult{RequestID: r.ID, Code: *r.PickupOTP, ExpiresAt: *r.PickupOTPExpiry}, nil
}

// RegenerateDeliveryOTP replaces the delivery code while the parcel is in transit. Sender only.
func (s *Service) RegenerateDeliveryOTP(ctx context.Context, cmd RegenerateCommand) (*OTPResult, error) {
	r, _, err := s.mutate(ctx, cmd.RequestID, func(_ pgx.Tx, r *Request, _ *trip.Trip) (*Event, error) {
		if r.SenderID != cmd.ActorID {
			return nil, ErrForbidden
		}
		if r.Status != StatusPickedUp {
			return nil, ErrInvalidState
		}
		code, err := s.codes.Generate(s.cfg.DeliveryOTPTTL)
		if err != nil {
			return nil, err
		}
		r.DeliveryOTP = &code.Value
		r.DeliveryOTPExpiry = &code.ExpiresAt
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("delivery otp regenerated", zap.String("request_id", string(r.ID)))
	return &OTPResult{RequestID: r.ID, Code: *r.DeliveryOTP, ExpiresAt: *r.DeliveryOTPExpiry}, nil
}

func (s *Service) UpdateReceiver(ctx context.Context, cmd UpdateReceiverCommand) (*Request, error) {
	phone, err := validateReceiver(cmd.Name, cmd.Phone)
	if err != nil {
		return nil, err
	}
	r, _, err := s.mutate(ctx, cmd.RequestID, func(_ pgx.Tx, r *Request, _ *trip.Trip) (*Event, error) {
		if r.SenderID != cmd.SenderID {
			return nil, ErrForbidden
		}
		if !CanEditReceiver(r.Status) {
			return nil, ErrTooLateToEdit
		}
		r.DeliveryContactName = strings.TrimSpace(cmd.Name)
		r.DeliveryContactPhone = phone
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	v := r.VisibleTo(RoleSender)
	return &v, nil
}

func (s *Service) UpdateDetails(ctx context.Context, cmd UpdateDetailsCommand) (*Request, error) {
	if err := validateItem(cmd.ItemDescription, cmd.Category); err != nil {
		return nil, err
	}
	if err := validatePhotos(cmd.ParcelPhotos, s.cfg.RequiredPhotos); err != nil {
		return nil, err
	}
	category := normalizeCategory(cmd.Category)
	r, _, err := s.mutate(ctx, cmd.RequestID, func(_ pgx.Tx, r *Request, t *trip.Trip) (*Event, error) {
		if r.SenderID != cmd.SenderID {
			return nil, ErrForbidden
		}
		if !CanEditDetails(r.Status) {
			if r.Status == StatusPickedUp || r.Status == StatusDelivered {
				return nil, ErrTooLateToEdit
			}
			return nil, ErrInvalidState
		}
		if !t.AllowsCategory(category) {
			return nil, fmt.Errorf("%w: category %q not accepted on this trip", ErrBadRequest, category)
		}
		r.ItemDescription = strings.TrimSpace(cmd.ItemDescription)
		r.Category = category
		r.ParcelPhotos = trimAll(cmd.ParcelPhotos)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	v := r.VisibleTo(RoleSender)
	return &v, nil
}

// Get returns the request as seen by viewerID, who must be the sender or the trip's traveller.
func (s *Service) Get(ctx context.Context, id, viewerID types.ID) (*Request, error) {
	r, _, role, err := s.load(ctx, id, viewerID)
	if err != nil {
		return nil, err
	}
	v := r.VisibleTo(role)
	return &v, nil
}

func (s *Service) History(ctx context.Context, id, viewerID types.ID) ([]Event, error) {
	if _, _, _, err := s.load(ctx, id, viewerID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// ListByTrip lists a trip's requests for its traveller.
func (s *Service) ListByTrip(ctx context.Context, tripID, travellerID types.ID) ([]Request, error) {
	t, err := s.trips.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.TravellerID != travellerID {
		return nil, ErrForbidden
	}
	reqs, err := s.store.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i] = reqs[i].VisibleTo(RoleTraveller)
	}
	return reqs, nil
}

func (s *Service) ListBySender(ctx context.Context, senderID types.ID) ([]Request, error) {
	return s.store.ListBySender(ctx, senderID)
}

func (s *Service) load(ctx context.Context, id, viewerID types.ID) (*Request, *trip.Trip, ActorRole, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}
	t, err := s.trips.Get(ctx, r.TripID)
	if err != nil {
		return nil, nil, "", err
	}
	role, ok := r.RoleOf(viewerID, t.TravellerID)
	if !ok {
		return nil, nil, "", ErrForbidden
	}
	return r, t, role, nil
}

type mutateFunc func(tx pgx.Tx, r *Request, t *trip.Trip) (*Event, error)

// mutate locks the request, applies fn and persists the result with an optimistic version check.
// A non-nil event from fn is appended to the state log in the same transaction.
func (s *Service) mutate(ctx context.Context, id types.ID, fn mutateFunc) (*Request, *trip.Trip, error) {
	var out *Request
	var outTrip *trip.Trip
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		store := s.store.WithTx(tx)
		r, err := store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		t, err := s.trips.WithTx(tx).Get(ctx, r.TripID)
		if err != nil {
			return err
		}

		version, from := r.StatusVersion, r.Status
		ev, err := fn(tx, r, t)
		if err != nil {
			return err
		}
		r.UpdatedAt = s.now()
		ok, err := store.Save(ctx, r, version)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		if ev != nil {
			ev.RequestID = r.ID
			ev.FromStatus = from
			ev.ToStatus = r.Status
			ev.CreatedAt = r.UpdatedAt
			if err := store.AppendEvent(ctx, *ev); err != nil {
				return err
			}
			s.log.Info("request status changed",
				zap.String("request_id", string(r.ID)),
				zap.String("from", string(from)),
				zap.String("to", string(r.Status)),
				zap.String("actor_role", string(ev.ActorRole)),
			)
		}
		out, outTrip = r, t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, outTrip, nil
}

func checkCode(submitted string, stored *string, expiresAt *time.Time, now time.Time) error {
	switch otp.Validate(strings.TrimSpace(submitted), stored, expiresAt, now) {
	case nil:
		return nil
	case otp.ErrExpired:
		return ErrExpiredOTP
	default:
		return ErrInvalidOTP
	}
}

func (s *Service) notify(ctx context.Context, r *Request, t *trip.Trip, actor ActorRole) {
	if s.notifier == nil {
		return
	}
	recipient := r.SenderID
	if actor == RoleSender {
		recipient = t.TravellerID
	}
	n := StatusNotification{
		RequestID:   r.ID,
		TripID:      r.TripID,
		Status:      r.Status,
		RecipientID: recipient,
		ActorRole:   actor,
	}
	if err := s.notifier.NotifyStatusChange(ctx, n); err != nil {
		s.log.Warn("status notification failed",
			zap.String("request_id", string(r.ID)),
			zap.String("status", string(r.Status)),
			zap.Error(err),
		)
	}
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
