// README: Trip handlers for create/list/get/update/status.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"handoff/internal/modules/trip"
	"handoff/internal/types"
)

type TripService interface {
	Create(ctx context.Context, cmd trip.CreateCommand) (*trip.Trip, error)
	Get(ctx context.Context, id types.ID) (*trip.Trip, error)
	ListOpen(ctx context.Context, f trip.ListFilter) ([]trip.Trip, error)
	ListByTraveller(ctx context.Context, travellerID types.ID) ([]trip.Trip, error)
	Update(ctx context.Context, cmd trip.UpdateCommand) (*trip.Trip, error)
	UpdateStatus(ctx context.Context, cmd trip.UpdateStatusCommand) error
	Delete(ctx context.Context, tripID, actorID types.ID) error
}

type TripHandler struct {
	trips TripService
	loc   *time.Location
}

// NewTripHandler interprets request dates and times in loc.
func NewTripHandler(svc TripService, loc *time.Location) *TripHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TripHandler{trips: svc, loc: loc}
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type createTripReq struct {
	Source            string   `json:"source" binding:"required"`
	Destination       string   `json:"destination" binding:"required"`
	TransportMode     string   `json:"transport_mode" binding:"required"`
	DepartureDate     string   `json:"departure_date" binding:"required"`
	DepartureTime     string   `json:"departure_time" binding:"required"`
	ArrivalDate       string   `json:"arrival_date" binding:"required"`
	ArrivalTime       string   `json:"arrival_time" binding:"required"`
	TotalSlots        int      `json:"total_slots" binding:"required,min=1"`
	AllowedCategories []string `json:"allowed_categories" binding:"required,min=1"`
	PNRNumber         string   `json:"pnr_number"`
	TicketFileURL     string   `json:"ticket_file_url"`
	Notes             *string  `json:"notes"`
}

type updateTripReq struct {
	Source            *string  `json:"source"`
	Destination       *string  `json:"destination"`
	TransportMode     *string  `json:"transport_mode"`
	DepartureDate     *string  `json:"departure_date"`
	DepartureTime     *string  `json:"departure_time"`
	ArrivalDate       *string  `json:"arrival_date"`
	ArrivalTime       *string  `json:"arrival_time"`
	TotalSlots        *int     `json:"total_slots"`
	AllowedCategories []string `json:"allowed_categories"`
	PNRNumber         *string  `json:"pnr_number"`
	TicketFileURL     *string  `json:"ticket_file_url"`
	Notes             *string  `json:"notes"`
}

type tripStatusReq struct {
	Status string `json:"status" binding:"required"`
}

type tripResponse struct {
	ID                types.ID  `json:"id"`
	TravellerID       types.ID  `json:"traveller_id"`
	Source            string    `json:"source"`
	Destination       string    `json:"destination"`
	TransportMode     string    `json:"transport_mode"`
	DepartureDate     string    `json:"departure_date"`
	DepartureTime     string    `json:"departure_time"`
	ArrivalDate       string    `json:"arrival_date"`
	ArrivalTime       string    `json:"arrival_time"`
	DepartureAt       time.Time `json:"departure_at"`
	ArrivalAt         time.Time `json:"arrival_at"`
	TotalSlots        int       `json:"total_slots"`
	AvailableSlots    int       `json:"available_slots"`
	AllowedCategories []string  `json:"allowed_categories"`
	PNRNumber         string    `json:"pnr_number,omitempty"`
	TicketFileURL     string    `json:"ticket_file_url,omitempty"`
	Notes             *string   `json:"notes,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (h *TripHandler) toResponse(t *trip.Trip, viewer types.ID) tripResponse {
	dep, arr := t.DepartureAt.In(h.loc), t.ArrivalAt.In(h.loc)
	resp := tripResponse{
		ID:                t.ID,
		TravellerID:       t.TravellerID,
		Source:            t.Source,
		Destination:       t.Destination,
		TransportMode:     string(t.TransportMode),
		DepartureDate:     dep.Format(dateLayout),
		DepartureTime:     dep.Format(timeLayout),
		ArrivalDate:       arr.Format(dateLayout),
		ArrivalTime:       arr.Format(timeLayout),
		DepartureAt:       t.DepartureAt,
		ArrivalAt:         t.ArrivalAt,
		TotalSlots:        t.TotalSlots,
		AvailableSlots:    t.AvailableSlots,
		AllowedCategories: t.AllowedCategories,
		Notes:             t.Notes,
		Status:            string(t.Status),
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	// Ticket details stay with the owner.
	if viewer == t.TravellerID {
		resp.PNRNumber = t.PNRNumber
		resp.TicketFileURL = t.TicketFileURL
	}
	return resp
}

func (h *TripHandler) combine(date, clock string) (time.Time, error) {
	at, err := time.ParseInLocation(dateLayout+" "+timeLayout, strings.TrimSpace(date)+" "+strings.TrimSpace(clock), h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: dates must be YYYY-MM-DD and times HH:MM", trip.ErrBadRequest)
	}
	return at, nil
}

func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if !bindJSON(c, &req) {
		return
	}
	dep, err := h.combine(req.DepartureDate, req.DepartureTime)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	arr, err := h.combine(req.ArrivalDate, req.ArrivalTime)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	t, err := h.trips.Create(c.Request.Context(), trip.CreateCommand{
		TravellerID:       caller(c),
		Source:            req.Source,
		Destination:       req.Destination,
		TransportMode:     trip.TransportMode(strings.ToLower(req.TransportMode)),
		DepartureAt:       dep,
		ArrivalAt:         arr,
		TotalSlots:        req.TotalSlots,
		AllowedCategories: req.AllowedCategories,
		PNRNumber:         req.PNRNumber,
		TicketFileURL:     req.TicketFileURL,
		Notes:             req.Notes,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, h.toResponse(t, caller(c)))
}

func (h *TripHandler) ListOpen(c *gin.Context) {
	f := trip.ListFilter{
		Source:      c.Query("source"),
		Destination: c.Query("destination"),
		Category:    strings.ToLower(strings.TrimSpace(c.Query("category"))),
	}
	if v := c.Query("departure_date"); v != "" {
		day, err := time.ParseInLocation(dateLayout, v, h.loc)
		if err != nil {
			writeError(c, http.StatusBadRequest, "ValidationError", "departure_date must be YYYY-MM-DD")
			return
		}
		f.DepartAfter = day
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	trips, err := h.trips.ListOpen(c.Request.Context(), f)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	h.writeList(c, trips)
}

func (h *TripHandler) ListMine(c *gin.Context) {
	trips, err := h.trips.ListByTraveller(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	h.writeList(c, trips)
}

func (h *TripHandler) writeList(c *gin.Context, trips []trip.Trip) {
	out := make([]tripResponse, 0, len(trips))
	for i := range trips {
		out = append(out, h.toResponse(&trips[i], caller(c)))
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": out})
}

func (h *TripHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.toResponse(t, caller(c)))
}

func (h *TripHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateTripReq
	if !bindJSON(c, &req) {
		return
	}
	cmd := trip.UpdateCommand{
		TripID:            id,
		ActorID:           caller(c),
		Source:            req.Source,
		Destination:       req.Destination,
		TotalSlots:        req.TotalSlots,
		AllowedCategories: req.AllowedCategories,
		PNRNumber:         req.PNRNumber,
		TicketFileURL:     req.TicketFileURL,
		Notes:             req.Notes,
	}
	if req.TransportMode != nil {
		m := trip.TransportMode(strings.ToLower(*req.TransportMode))
		cmd.TransportMode = &m
	}
	if (req.DepartureDate == nil) != (req.DepartureTime == nil) || (req.ArrivalDate == nil) != (req.ArrivalTime == nil) {
		writeError(c, http.StatusBadRequest, "ValidationError", "date and time must be updated together")
		return
	}
	if req.DepartureDate != nil {
		dep, err := h.combine(*req.DepartureDate, *req.DepartureTime)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		cmd.DepartureAt = &dep
	}
	if req.ArrivalDate != nil {
		arr, err := h.combine(*req.ArrivalDate, *req.ArrivalTime)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		cmd.ArrivalAt = &arr
	}

	t, err := h.trips.Update(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.toResponse(t, caller(c)))
}

func (h *TripHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req tripStatusReq
	if !bindJSON(c, &req) {
		return
	}
	status := trip.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	err := h.trips.UpdateStatus(c.Request.Context(), trip.UpdateStatusCommand{TripID: id, ActorID: caller(c), Status: status})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "status": status})
}

func (h *TripHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.trips.Delete(c.Request.Context(), id, caller(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "status": trip.StatusCancelled})
}
