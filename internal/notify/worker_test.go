package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"handoff/internal/config"
	"handoff/internal/infra"
	"handoff/internal/modules/request"
)

type fakePush struct {
	sent []infra.PushMessage
	err  error
}

func (f *fakePush) Send(_ context.Context, msg infra.PushMessage) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func TestHandleStatusChanged_SendsToRecipientTopic(t *testing.T) {
	push := &fakePush{}
	c := NewConsumer(push, zap.NewNop())

	task, err := NewStatusChangedTask(StatusChangedPayload{
		RequestID:   "req-1",
		TripID:      "trip-1",
		Status:      string(request.StatusAccepted),
		RecipientID: "sender-9",
		ActorRole:   string(request.RoleTraveller),
	})
	require.NoError(t, err)

	require.NoError(t, c.handleStatusChanged(context.Background(), task))
	require.Len(t, push.sent, 1)
	assert.Equal(t, "user_sender-9", push.sent[0].Topic)
	assert.Equal(t, "Request accepted", push.sent[0].Title)
	assert.Equal(t, "req-1", push.sent[0].Data["request_id"])
}

func TestHandleStatusChanged_BadPayloadSkipsRetry(t *testing.T) {
	c := NewConsumer(&fakePush{}, zap.NewNop())
	err := c.handleStatusChanged(context.Background(), asynq.NewTask(TaskRequestStatusChanged, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleStatusChanged_PushFailureRetries(t *testing.T) {
	push := &fakePush{err: errors.New("fcm unavailable")}
	c := NewConsumer(push, zap.NewNop())
	task, err := NewStatusChangedTask(StatusChangedPayload{RequestID: "r", RecipientID: "u", Status: "delivered"})
	require.NoError(t, err)

	err = c.handleStatusChanged(context.Background(), task)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestBuildMessage_Cancelled(t *testing.T) {
	msg := BuildMessage(StatusChangedPayload{RequestID: "r", RecipientID: "u", Status: "cancelled", ActorRole: "sender"})
	assert.Equal(t, "The sender cancelled the parcel request.", msg.Body)
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient(config.QueueConfig{Enabled: false}, config.RedisConfig{})
	assert.False(t, c.Enabled())
	assert.NoError(t, c.NotifyStatusChange(context.Background(), request.StatusNotification{RequestID: "r"}))
	assert.NoError(t, c.Close())
}
