// README: Parcel request aggregate, status definitions and state flow.
package request

import (
	"time"

	"handoff/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusDelivered, StatusCancelled:
		return true
	case StatusNone, StatusPending, StatusAccepted, StatusPickedUp:
		return false
	}
	return false
}

type ActorRole string

const (
	RoleSender    ActorRole = "sender"
	RoleTraveller ActorRole = "traveller"
)

func (r ActorRole) Valid() bool {
	return r == RoleSender || r == RoleTraveller
}

type Request struct {
	ID                   types.ID
	TripID               types.ID
	SenderID             types.ID
	ItemDescription      string
	Category             string
	ParcelPhotos         []string
	DeliveryContactName  string
	DeliveryContactPhone string
	SenderNotes          *string
	TravellerNotes       *string
	Status               Status
	StatusVersion        int
	PickupOTP            *string
	PickupOTPExpiry      *time.Time
	DeliveryOTP          *string
	DeliveryOTPExpiry    *time.Time
	RejectionReason      *string
	CancelledBy          *ActorRole
	AcceptedAt           *time.Time
	PickedAt             *time.Time
	DeliveredAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Event struct {
	ID         int64
	RequestID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  ActorRole
	ActorID    types.ID
	Reason     *string
	CreatedAt  time.Time
}

// AllowedTransitions represents the request state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted: {StatusPickedUp, StatusCancelled},
	StatusPickedUp: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RoleOf returns the role actorID plays on a request whose trip is owned by travellerID.
func (r *Request) RoleOf(actorID, travellerID types.ID) (ActorRole, bool) {
	switch actorID {
	case "":
		return "", false
	case r.SenderID:
		return RoleSender, true
	case travellerID:
		return RoleTraveller, true
	}
	return "", false
}

// VisibleTo strips the codes the viewer must not see. The sender relays the delivery
// code to the receiver, so the traveller never sees it.
func (r Request) VisibleTo(role ActorRole) Request {
	if role != RoleSender {
		r.DeliveryOTP = nil
		r.DeliveryOTPExpiry = nil
	}
	return r
}
