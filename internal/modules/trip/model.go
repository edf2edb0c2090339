// README: Trip aggregate, transport modes and status definitions.
package trip

import (
	"time"

	"handoff/internal/types"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type TransportMode string

const (
	ModeTrain  TransportMode = "train"
	ModeBus    TransportMode = "bus"
	ModeFlight TransportMode = "flight"
	ModeCar    TransportMode = "car"
)

func (m TransportMode) Valid() bool {
	switch m {
	case ModeTrain, ModeBus, ModeFlight, ModeCar:
		return true
	}
	return false
}

type Trip struct {
	ID                types.ID
	TravellerID       types.ID
	Source            string
	Destination       string
	TransportMode     TransportMode
	DepartureAt       time.Time
	ArrivalAt         time.Time
	TotalSlots        int
	AvailableSlots    int
	AllowedCategories []string
	PNRNumber         string
	TicketFileURL     string
	Notes             *string
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AllowsCategory reports whether a parcel of the given category may ride on this trip.
func (t *Trip) AllowsCategory(category string) bool {
	for _, c := range t.AllowedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// ReservedSlots is the number of slots currently held by accepted requests.
func (t *Trip) ReservedSlots() int {
	return t.TotalSlots - t.AvailableSlots
}

// AllowedTransitions covers both owner actions and the slot ledger (open <-> in_progress).
var AllowedTransitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusOpen, StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OwnerSettable lists the statuses a traveller may move their trip to directly.
func OwnerSettable(to Status) bool {
	return to == StatusCompleted || to == StatusCancelled
}

// ListFilter narrows the open-trip search. Zero values are ignored.
type ListFilter struct {
	Source      string
	Destination string
	Category    string
	DepartAfter time.Time
	Limit       int
	Offset      int
}
