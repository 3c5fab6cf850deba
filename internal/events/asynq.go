package events

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// TaskEnqueuer is the subset of *asynq.Client used for publishing.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqPublisher turns payment.completed events into order settlement tasks. The task id is derived from
// the event key so replays of the same payment collapse into one task.
type AsynqPublisher struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
}

// Publish implements Publisher.
func (p AsynqPublisher) Publish(ctx context.Context, ev Event) error {
	if p.Client == nil || ev.Topic != TopicPaymentCompleted {
		return nil
	}
	opts := []asynq.Option{asynq.TaskID("settle:" + ev.Key)}
	if p.Queue != "" {
		opts = append(opts, asynq.Queue(p.Queue))
	}
	if p.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	_, err := p.Client.EnqueueContext(ctx, asynq.NewTask(TaskOrderSettle, ev.Payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
