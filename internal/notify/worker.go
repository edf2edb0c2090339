// README: asynq consumer that delivers request status pushes through FCM topics.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"handoff/internal/infra"
	"handoff/internal/modules/request"
)

type Consumer struct {
	push infra.PushSender
	log  *zap.Logger
}

func NewConsumer(push infra.PushSender, log *zap.Logger) *Consumer {
	return &Consumer{push: push, log: log}
}

func (c *Consumer) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskRequestStatusChanged, c.handleStatusChanged)
}

func (c *Consumer) handleStatusChanged(ctx context.Context, task *asynq.Task) error {
	var payload StatusChangedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		c.log.Warn("status notification payload unreadable", zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.RequestID == "" || payload.RecipientID == "" {
		c.log.Debug("status notification skipped", zap.String("request_id", payload.RequestID))
		return nil
	}
	msg := BuildMessage(payload)
	if err := c.push.Send(ctx, msg); err != nil {
		c.log.Warn("push send failed",
			zap.String("request_id", payload.RequestID),
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return err
	}
	c.log.Info("push sent",
		zap.String("request_id", payload.RequestID),
		zap.String("status", payload.Status),
	)
	return nil
}

// BuildMessage renders the push for a status change. Recipients subscribe to the user_<id> topic.
func BuildMessage(p StatusChangedPayload) infra.PushMessage {
	title, body := "Parcel request update", fmt.Sprintf("Request is now %s.", p.Status)
	switch request.Status(p.Status) {
	case request.StatusPending:
		title, body = "New parcel request", "A sender wants to ship a parcel on your trip."
	case request.StatusAccepted:
		title, body = "Request accepted", "Your parcel request was accepted. Share the pickup code at handoff."
	case request.StatusRejected:
		title, body = "Request declined", "The traveller declined your parcel request."
	case request.StatusPickedUp:
		title, body = "Parcel picked up", "Your parcel is on its way. Share the delivery code with the receiver."
	case request.StatusDelivered:
		title, body = "Parcel delivered", "The parcel has been handed to the receiver."
	case request.StatusCancelled:
		title, body = "Request cancelled", fmt.Sprintf("The %s cancelled the parcel request.", p.ActorRole)
	}
	return infra.PushMessage{
		Topic: "user_" + p.RecipientID,
		Title: title,
		Body:  body,
		Data: map[string]string{
			"request_id": p.RequestID,
			"trip_id":    p.TripID,
			"status":     p.Status,
		},
	}
}
