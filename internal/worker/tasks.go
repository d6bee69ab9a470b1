package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeDispatch = "design:dispatch"
	TaskTypeSettle   = "order:settle"

	QueueDesigns = "designs"
	QueueOrders  = "orders"
)

type dispatchPayload struct {
	DesignID string `json:"designId"`
}

type settlePayload struct {
	SessionID string `json:"sessionId"`
}

func newDispatchTask(designID string) (*asynq.Task, error) {
	payload, err := json.Marshal(dispatchPayload{DesignID: designID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDispatch, payload), nil
}

func newSettleTask(sessionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(settlePayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSettle, payload), nil
}

// Queue enqueues background work on asynq. It implements both the tracker's
// dispatch Enqueuer and the checkout settlement Scheduler.
type Queue struct {
	client *asynq.Client
}

func NewQueue(client *asynq.Client) *Queue {
	return &Queue{client: client}
}

// EnqueueDispatch queues the backend trigger of a design
func (q *Queue) EnqueueDispatch(ctx context.Context, designID string) error {
	task, err := newDispatchTask(designID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDesigns),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// ScheduleSettlement queues the completion of a paid order after delay. A
// session is settled by at most one task.
func (q *Queue) ScheduleSettlement(ctx context.Context, sessionID string, delay time.Duration) error {
	task, err := newSettleTask(sessionID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueOrders),
		asynq.ProcessIn(delay),
		asynq.TaskID("settle:"+sessionID),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
