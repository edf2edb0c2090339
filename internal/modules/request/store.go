// README: Parcel request store backed by PostgreSQL, plus the append-only state event log.
package request

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"handoff/internal/infra"
	"handoff/internal/types"
)

const requestColumns = `
	id, trip_id, sender_id, item_description, category, parcel_photos,
	delivery_contact_name, delivery_contact_phone, sender_notes, traveller_notes,
	status, status_version, pickup_otp, pickup_otp_expiry, delivery_otp, delivery_otp_expiry,
	rejection_reason, cancelled_by, accepted_at, picked_at, delivered_at, created_at, updated_at`

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

func (s *Store) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO parcel_requests (
			id, trip_id, sender_id, item_description, category, parcel_photos,
			delivery_contact_name, delivery_contact_phone, sender_notes,
			status, status_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(r.ID), string(r.TripID), string(r.SenderID), r.ItemDescription, r.Category, r.ParcelPhotos,
		r.DeliveryContactName, r.DeliveryContactPhone, r.SenderNotes,
		string(r.Status), r.StatusVersion, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.get(ctx, `SELECT `+requestColumns+` FROM parcel_requests WHERE id = $1`, id)
}

// GetForUpdate locks the request row so lifecycle operations on it serialize.
func (s *Store) GetForUpdate(ctx context.Context, id types.ID) (*Request, error) {
	return s.get(ctx, `SELECT `+requestColumns+` FROM parcel_requests WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) get(ctx context.Context, query string, id types.ID) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListByTrip(ctx context.Context, tripID types.ID) ([]Request, error) {
	return s.list(ctx, `SELECT `+requestColumns+` FROM parcel_requests WHERE trip_id = $1 ORDER BY created_at DESC`, string(tripID))
}

func (s *Store) ListBySender(ctx context.Context, senderID types.ID) ([]Request, error) {
	return s.list(ctx, `SELECT `+requestColumns+` FROM parcel_requests WHERE sender_id = $1 ORDER BY created_at DESC`, string(senderID))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Save writes every mutable column if the row is still at expectVersion, bumping the version.
func (s *Store) Save(ctx context.Context, r *Request, expectVersion int) (bool, error) {
	var cancelledBy *string
	if r.CancelledBy != nil {
		v := string(*r.CancelledBy)
		cancelledBy = &v
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE parcel_requests
		SET item_description = $2,
		    category = $3,
		    parcel_photos = $4,
		    delivery_contact_name = $5,
		    delivery_contact_phone = $6,
		    sender_notes = $7,
		    traveller_notes = $8,
		    status = $9,
		    pickup_otp = $10,
		    pickup_otp_expiry = $11,
		    delivery_otp = $12,
		    delivery_otp_expiry = $13,
		    rejection_reason = $14,
		    cancelled_by = $15,
		    accepted_at = $16,
		    picked_at = $17,
		    delivered_at = $18,
		    updated_at = $19,
		    status_version = status_version + 1
		WHERE id = $1 AND status_version = $20`,
		string(r.ID),
		r.ItemDescription, r.Category, r.ParcelPhotos,
		r.DeliveryContactName, r.DeliveryContactPhone,
		r.SenderNotes, r.TravellerNotes,
		string(r.Status),
		r.PickupOTP, r.PickupOTPExpiry,
		r.DeliveryOTP, r.DeliveryOTPExpiry,
		r.RejectionReason, cancelledBy,
		r.AcceptedAt, r.PickedAt, r.DeliveredAt,
		r.UpdatedAt,
		expectVersion,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	r.StatusVersion = expectVersion + 1
	return true, nil
}

func (s *Store) AppendEvent(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO request_state_events (request_id, from_status, to_status, actor_role, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.RequestID), string(e.FromStatus), string(e.ToStatus),
		string(e.ActorRole), string(e.ActorID), e.Reason, e.CreatedAt,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, requestID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, from_status, to_status, actor_role, actor_id, reason, created_at
		FROM request_state_events
		WHERE request_id = $1
		ORDER BY id ASC`, string(requestID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &e.ActorID, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			e.Reason = &reason.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var senderNotes, travellerNotes, pickupOTP, deliveryOTP, rejection, cancelledBy sql.NullString
	var pickupExpiry, deliveryExpiry, acceptedAt, pickedAt, deliveredAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.TripID, &r.SenderID, &r.ItemDescription, &r.Category, &r.ParcelPhotos,
		&r.DeliveryContactName, &r.DeliveryContactPhone, &senderNotes, &travellerNotes,
		&r.Status, &r.StatusVersion, &pickupOTP, &pickupExpiry, &deliveryOTP, &deliveryExpiry,
		&rejection, &cancelledBy, &acceptedAt, &pickedAt, &deliveredAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.SenderNotes = toStringPtr(senderNotes)
	r.TravellerNotes = toStringPtr(travellerNotes)
	r.PickupOTP = toStringPtr(pickupOTP)
	r.DeliveryOTP = toStringPtr(deliveryOTP)
	r.RejectionReason = toStringPtr(rejection)
	if cancelledBy.Valid {
		role := ActorRole(cancelledBy.String)
		r.CancelledBy = &role
	}
	r.PickupOTPExpiry = toTimePtr(pickupExpiry)
	r.DeliveryOTPExpiry = toTimePtr(deliveryExpiry)
	r.AcceptedAt = toTimePtr(acceptedAt)
	r.PickedAt = toTimePtr(pickedAt)
	r.DeliveredAt = toTimePtr(deliveredAt)
	return &r, nil
}

func toStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
