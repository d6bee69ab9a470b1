package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/model"
)

// Launcher triggers generation for a stored job
type Launcher interface {
	Launch(ctx context.Context, designID string) error
}

// DispatchWorker processes design:dispatch tasks
type DispatchWorker struct {
	launcher Launcher
	log      zerolog.Logger
}

func NewDispatchWorker(launcher Launcher, log zerolog.Logger) *DispatchWorker {
	return &DispatchWorker{
		launcher: launcher,
		log:      log.With().Str("worker", TaskTypeDispatch).Logger(),
	}
}

// ProcessTask triggers the backend. Errors are returned so asynq retries; the
// job stays PENDING until a trigger succeeds.
func (w *DispatchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload dispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.launcher.Launch(ctx, payload.DesignID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound):
		w.log.Warn().Str("design_id", payload.DesignID).Msg("design vanished before dispatch")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		retry, _ := asynq.GetRetryCount(ctx)
		w.log.Warn().Err(err).Str("design_id", payload.DesignID).Int("retry", retry).Msg("dispatch failed")
		return err
	}
}
