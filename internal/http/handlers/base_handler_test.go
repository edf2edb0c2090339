// README: Error-kind mapping tests.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"handoff/internal/modules/request"
	"handoff/internal/modules/trip"
)

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: bad phone", request.ErrBadRequest), http.StatusBadRequest, "ValidationError"},
		{trip.ErrBadRequest, http.StatusBadRequest, "ValidationError"},
		{request.ErrForbidden, http.StatusForbidden, "Unauthorized"},
		{trip.ErrForbidden, http.StatusForbidden, "Unauthorized"},
		{request.ErrNotFound, http.StatusNotFound, "NotFound"},
		{trip.ErrNotFound, http.StatusNotFound, "NotFound"},
		{trip.ErrNoSlotsAvailable, http.StatusConflict, "NoSlotsAvailable"},
		{trip.ErrTripNotOpen, http.StatusConflict, "TripNotOpen"},
		{&request.CancellationWindowError{HoursUntilDeparture: 3}, http.StatusConflict, "CancellationWindowClosed"},
		{request.ErrTooLateToEdit, http.StatusConflict, "TooLateToEdit"},
		{request.ErrInvalidState, http.StatusConflict, "StateConflict"},
		{request.ErrConflict, http.StatusConflict, "StateConflict"},
		{trip.ErrInvalidState, http.StatusConflict, "StateConflict"},
		{request.ErrInvalidOTP, http.StatusUnprocessableEntity, "InvalidOtp"},
		{request.ErrExpiredOTP, http.StatusUnprocessableEntity, "ExpiredOtp"},
		{errors.New("connection reset"), http.StatusInternalServerError, "Internal"},
	}
	for _, tc := range cases {
		status, kind := ErrorKind(tc.err)
		if status != tc.status || kind != tc.kind {
			t.Errorf("%v: want (%d,%s) got (%d,%s)", tc.err, tc.status, tc.kind, status, kind)
		}
	}
}
