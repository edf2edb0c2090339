// README: Parcel request handlers for the lifecycle, OTP handoffs and edits.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"handoff/internal/modules/request"
	"handoff/internal/types"
)

type RequestService interface {
	Create(ctx context.Context, cmd request.CreateCommand) (*request.Request, error)
	Accept(ctx context.Context, cmd request.AcceptCommand) (*request.AcceptResult, error)
	Reject(ctx context.Context, cmd request.RejectCommand) error
	Cancel(ctx context.Context, cmd request.CancelCommand) error
	VerifyPickup(ctx context.Context, cmd request.VerifyCommand) (*request.PickupResult, error)
	VerifyDelivery(ctx context.Context, cmd request.VerifyCommand) (*request.DeliveryResult, error)
	RegeneratePickupOTP(ctx context.Context, cmd request.RegenerateCommand) (*request.OTPResult, error)
	RegenerateDeliveryOTP(ctx context.Context, cmd request.RegenerateCommand) (*request.OTPResult, error)
	UpdateReceiver(ctx context.Context, cmd request.UpdateReceiverCommand) (*request.Request, error)
	UpdateDetails(ctx context.Context, cmd request.UpdateDetailsCommand) (*request.Request, error)
	Get(ctx context.Context, id, viewerID types.ID) (*request.Request, error)
	History(ctx context.Context, id, viewerID types.ID) ([]request.Event, error)
	ListByTrip(ctx context.Context, tripID, travellerID types.ID) ([]request.Request, error)
	ListBySender(ctx context.Context, senderID types.ID) ([]request.Request, error)
}

type RequestHandler struct {
	requests RequestService
}

func NewRequestHandler(svc RequestService) *RequestHandler {
	return &RequestHandler{requests: svc}
}

type createRequestReq struct {
	ItemDescription      string   `json:"item_description" binding:"required"`
	Category             string   `json:"category" binding:"required"`
	ParcelPhotos         []string `json:"parcel_photos" binding:"required"`
	DeliveryContactName  string   `json:"delivery_contact_name" binding:"required"`
	DeliveryContactPhone string   `json:"delivery_contact_phone" binding:"required"`
	SenderNotes          string   `json:"sender_notes"`
}

type acceptReq struct {
	Notes string `json:"notes"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type verifyReq struct {
	Code string `json:"code" binding:"required"`
}

type receiverReq struct {
	Name  string `json:"delivery_contact_name" binding:"required"`
	Phone string `json:"delivery_contact_phone" binding:"required"`
}

type detailsReq struct {
	ItemDescription string   `json:"item_description" binding:"required"`
	Category        string   `json:"category" binding:"required"`
	ParcelPhotos    []string `json:"parcel_photos" binding:"required"`
}

type requestResponse struct {
	ID                   types.ID   `json:"id"`
	TripID               types.ID   `json:"trip_id"`
	SenderID             types.ID   `json:"sender_id"`
	ItemDescription      string     `json:"item_description"`
	Category             string     `json:"category"`
	ParcelPhotos         []string   `json:"parcel_photos"`
	DeliveryContactName  string     `json:"delivery_contact_name"`
	DeliveryContactPhone string     `json:"delivery_contact_phone"`
	SenderNotes          *string    `json:"sender_notes,omitempty"`
	TravellerNotes       *string    `json:"traveller_notes,omitempty"`
	Status               string     `json:"status"`
	PickupOTP            *string    `json:"pickup_otp,omitempty"`
	PickupOTPExpiry      *time.Time `json:"pickup_otp_expiry,omitempty"`
	DeliveryOTP          *string    `json:"delivery_otp,omitempty"`
	DeliveryOTPExpiry    *time.Time `json:"delivery_otp_expiry,omitempty"`
	RejectionReason      *string    `json:"rejection_reason,omitempty"`
	CancelledBy          *string    `json:"cancelled_by,omitempty"`
	AcceptedAt           *time.Time `json:"accepted_at,omitempty"`
	PickedAt             *time.Time `json:"picked_at,omitempty"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type eventResponse struct {
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorRole  string    `json:"actor_role"`
	Reason     *string   `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toRequestResponse(r *request.Request) requestResponse {
	resp := requestResponse{
		ID:                   r.ID,
		TripID:               r.TripID,
		SenderID:             r.SenderID,
		ItemDescription:      r.ItemDescription,
		Category:             r.Category,
		ParcelPhotos:         r.ParcelPhotos,
		DeliveryContactName:  r.DeliveryContactName,
		DeliveryContactPhone: r.DeliveryContactPhone,
		SenderNotes:          r.SenderNotes,
		TravellerNotes:       r.TravellerNotes,
		Status:               string(r.Status),
		PickupOTP:            r.PickupOTP,
		PickupOTPExpiry:      r.PickupOTPExpiry,
		DeliveryOTP:          r.DeliveryOTP,
		DeliveryOTPExpiry:    r.DeliveryOTPExpiry,
		RejectionReason:      r.RejectionReason,
		AcceptedAt:           r.AcceptedAt,
		PickedAt:             r.PickedAt,
		DeliveredAt:          r.DeliveredAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.CancelledBy != nil {
		v := string(*r.CancelledBy)
		resp.CancelledBy = &v
	}
	return resp
}

func writeRequests(c *gin.Context, reqs []request.Request) {
	out := make([]requestResponse, 0, len(reqs))
	for i := range reqs {
		out = append(out, toRequestResponse(&reqs[i]))
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": out})
}

func (h *RequestHandler) Create(c *gin.Context) {
	tripID, ok := pathID(c)
	if !ok {
		return
	}
	var req createRequestReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.requests.Create(c.Request.Context(), request.CreateCommand{
		TripID:               tripID,
		SenderID:             caller(c),
		ItemDescription:      req.ItemDescription,
		Category:             req.Category,
		ParcelPhotos:         req.ParcelPhotos,
		DeliveryContactName:  req.DeliveryContactName,
		DeliveryContactPhone: req.DeliveryContactPhone,
		SenderNotes:          req.SenderNotes,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"request_id": r.ID, "status": r.Status})
}

func (h *RequestHandler) ListByTrip(c *gin.Context) {
	tripID, ok := pathID(c)
	if !ok {
		return
	}
	reqs, err := h.requests.ListByTrip(c.Request.Context(), tripID, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeRequests(c, reqs)
}

func (h *RequestHandler) ListMine(c *gin.Context) {
	reqs, err := h.requests.ListBySender(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeRequests(c, reqs)
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.requests.Get(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRequestResponse(r))
}

func (h *RequestHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.requests.History(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ActorRole:  string(e.ActorRole),
			Reason:     e.Reason,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"events": out})
}

func (h *RequestHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req acceptReq
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	res, err := h.requests.Accept(c.Request.Context(), request.AcceptCommand{RequestID: id, TravellerID: caller(c), Notes: req.Notes})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"request_id":        res.RequestID,
		"status":            res.Status,
		"pickup_otp":        res.PickupOTP,
		"pickup_otp_expiry": res.PickupOTPExpiry,
	})
}

func (h *RequestHandler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if err := h.requests.Reject(c.Request.Context(), request.RejectCommand{RequestID: id, TravellerID: caller(c), Reason: req.Reason}); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request_id": id, "status": request.StatusRejected})
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if err := h.requests.Cancel(c.Request.Context(), request.CancelCommand{RequestID: id, ActorID: caller(c), Reason: req.Reason}); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request_id": id, "status": request.StatusCancelled})
}

func (h *RequestHandler) VerifyPickup(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req verifyReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.requests.VerifyPickup(c.Request.Context(), request.VerifyCommand{RequestID: id, ActorID: caller(c), Code: req.Code})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	body := gin.H{"request_id": res.RequestID, "status": res.Status}
	if res.DeliveryOTP != nil {
		body["delivery_otp"] = *res.DeliveryOTP
		body["delivery_otp_expiry"] = res.DeliveryOTPExpiry
	}
	writeJSON(c, http.StatusOK, body)
}

func (h *RequestHandler) VerifyDelivery(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req verifyReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.requests.VerifyDelivery(c.Request.Context(), request.VerifyCommand{RequestID: id, ActorID: caller(c), Code: req.Code})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request_id": res.RequestID, "status": res.Status, "delivered_at": res.DeliveredAt})
}

func (h *RequestHandler) RegeneratePickupOTP(c *gin.Context) {
	h.regenerate(c, h.requests.RegeneratePickupOTP)
}

func (h *RequestHandler) RegenerateDeliveryOTP(c *gin.Context) {
	h.regenerate(c, h.requests.RegenerateDeliveryOTP)
}

func (h *RequestHandler) regenerate(c *gin.Context, fn func(context.Context, request.RegenerateCommand) (*request.OTPResult, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := fn(c.Request.Context(), request.RegenerateCommand{RequestID: id, ActorID: caller(c)})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request_id": res.RequestID, "otp": res.Code, "expires_at": res.ExpiresAt})
}

func (h *RequestHandler) UpdateReceiver(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req receiverReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.requests.UpdateReceiver(c.Request.Context(), request.UpdateReceiverCommand{
		RequestID: id,
		SenderID:  caller(c),
		Name:      req.Name,
		Phone:     req.Phone,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRequestResponse(r))
}

func (h *RequestHandler) UpdateDetails(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req detailsReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.requests.UpdateDetails(c.Request.Context(), request.UpdateDetailsCommand{
		RequestID:       id,
		SenderID:        caller(c),
		ItemDescription: req.ItemDescription,
		Category:        req.Category,
		ParcelPhotos:    req.ParcelPhotos,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRequestResponse(r))
}
