package request

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNotFound                 = errors.New("request not found")
	ErrBadRequest               = errors.New("bad request")
	ErrForbidden                = errors.New("actor not permitted on this request")
	ErrInvalidState             = errors.New("invalid state transition")
	ErrConflict                 = errors.New("request state conflict")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrTooLateToEdit            = errors.New("too late to edit")
	ErrInvalidOTP               = errors.New("invalid otp")
	ErrExpiredOTP               = errors.New("otp expired")
)

// CancellationWindowError reports how close departure is when an accepted request can no longer be cancelled.
type CancellationWindowError struct {
	HoursUntilDeparture float64
}

func (e *CancellationWindowError) Error() string {
	return fmt.Sprintf("%s: departure in %.1f hours", ErrCancellationWindowClosed, math.Max(e.HoursUntilDeparture, 0))
}

func (e *CancellationWindowError) Is(target error) bool {
	return target == ErrCancellationWindowClosed
}
