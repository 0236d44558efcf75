package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, taskTimeout time.Duration) *Client {
	if taskTimeout <= 0 {
		taskTimeout = 3 * time.Minute
	}
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: taskTimeout,
	}
}

// EnqueueRenditions schedules payload after delay. The task id is derived
// from run id and attempt so a redelivered enqueue of the same retry is
// rejected by asynq instead of doubling the work.
func (c *Client) EnqueueRenditions(ctx context.Context, payload RenditionsPayload, delay time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewRenditionsTask(payload)
	if err != nil {
		return nil, err
	}

	attempt := max(1, payload.Attempt)
	opts := []asynq.Option{
		asynq.Queue(c.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(c.timeout),
		asynq.TaskID(TaskID(payload.RunID, attempt)),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return c.client.EnqueueContext(ctx, task, opts...)
}

func (c *Client) Close() error {
	return c.client.Close()
}

func TaskID(runID string, attempt int) string {
	return fmt.Sprintf("%s-%d", runID, attempt)
}

// RetryDelay is the exponential delay before the given attempt, capped at
// ten times base.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 1 {
		return 0
	}
	limit := 10 * base
	if attempt > 8 {
		return limit
	}
	return min(base<<(attempt-2), limit)
}
