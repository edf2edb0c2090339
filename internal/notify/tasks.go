// README: asynq task types and payloads for request status notifications.
package notify

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TaskRequestStatusChanged = "request:status_changed"
	DefaultQueue             = "notifications"
)

type StatusChangedPayload struct {
	RequestID   string `json:"request_id"`
	TripID      string `json:"trip_id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
	ActorRole   string `json:"actor_role"`
}

func NewStatusChangedTask(payload StatusChangedPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRequestStatusChanged, body), nil
}
