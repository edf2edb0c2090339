// README: Queue client that turns request status changes into background push tasks.
package notify

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"handoff/internal/config"
	"handoff/internal/modules/request"
)

type Client struct {
	client  *asynq.Client
	enabled bool
}

// NewClient returns a disabled client when the queue is turned off; enqueues then become no-ops.
func NewClient(queue config.QueueConfig, redis config.RedisConfig) *Client {
	if !queue.Enabled {
		return &Client{}
	}
	return &Client{client: asynq.NewClient(RedisOpt(redis)), enabled: true}
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// NotifyStatusChange implements request.Notifier.
func (c *Client) NotifyStatusChange(ctx context.Context, n request.StatusNotification) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewStatusChangedTask(StatusChangedPayload{
		RequestID:   string(n.RequestID),
		TripID:      string(n.TripID),
		Status:      string(n.Status),
		RecipientID: string(n.RecipientID),
		ActorRole:   string(n.ActorRole),
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(DefaultQueue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	return err
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// ServerConfig builds the worker settings for the notification queue.
func ServerConfig(queue config.QueueConfig) asynq.Config {
	concurrency := 10
	if queue.Concurrency > 0 {
		concurrency = queue.Concurrency
	}
	return asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{DefaultQueue: 1},
	}
}
