package trip

import "errors"

var (
	ErrNotFound         = errors.New("trip not found")
	ErrBadRequest       = errors.New("bad request")
	ErrForbidden        = errors.New("not the trip owner")
	ErrInvalidState     = errors.New("invalid trip state transition")
	ErrTripNotOpen      = errors.New("trip not open")
	ErrNoSlotsAvailable = errors.New("no slots available")
)
