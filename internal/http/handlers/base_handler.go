// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"handoff/internal/http/middleware"
	"handoff/internal/modules/request"
	"handoff/internal/modules/trip"
	"handoff/internal/types"
)

type errorResponse struct {
	Kind                string   `json:"kind"`
	Error               string   `json:"error"`
	HoursUntilDeparture *float64 `json:"hours_until_departure,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, kind, msg string) {
	writeJSON(c, status, errorResponse{Kind: kind, Error: msg})
}

// ErrorKind maps a service error to its HTTP status and wire kind.
func ErrorKind(err error) (int, string) {
	switch {
	case errors.Is(err, request.ErrBadRequest), errors.Is(err, trip.ErrBadRequest):
		return http.StatusBadRequest, "ValidationError"
	case errors.Is(err, request.ErrForbidden), errors.Is(err, trip.ErrForbidden):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, request.ErrNotFound), errors.Is(err, trip.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, trip.ErrNoSlotsAvailable):
		return http.StatusConflict, "NoSlotsAvailable"
	case errors.Is(err, trip.ErrTripNotOpen):
		return http.StatusConflict, "TripNotOpen"
	case errors.Is(err, request.ErrCancellationWindowClosed):
		return http.StatusConflict, "CancellationWindowClosed"
	case errors.Is(err, request.ErrTooLateToEdit):
		return http.StatusConflict, "TooLateToEdit"
	case errors.Is(err, request.ErrInvalidState), errors.Is(err, request.ErrConflict), errors.Is(err, trip.ErrInvalidState):
		return http.StatusConflict, "StateConflict"
	case errors.Is(err, request.ErrInvalidOTP):
		return http.StatusUnprocessableEntity, "InvalidOtp"
	case errors.Is(err, request.ErrExpiredOTP):
		return http.StatusUnprocessableEntity, "ExpiredOtp"
	}
	return http.StatusInternalServerError, "Internal"
}

func writeServiceError(c *gin.Context, err error) {
	status, kind := ErrorKind(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeError(c, status, kind, "internal error")
		return
	}
	resp := errorResponse{Kind: kind, Error: err.Error()}
	var windowErr *request.CancellationWindowError
	if errors.As(err, &windowErr) {
		h := windowErr.HoursUntilDeparture
		resp.HoursUntilDeparture = &h
	}
	writeJSON(c, status, resp)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "ValidationError", "invalid json: "+err.Error())
		return false
	}
	return true
}

// pathID returns the :id route parameter, writing a 400 when it is blank.
func pathID(c *gin.Context) (types.ID, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" || len(id) > 64 {
		writeError(c, http.StatusBadRequest, "ValidationError", "missing or invalid id")
		return "", false
	}
	return types.ID(id), true
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}
