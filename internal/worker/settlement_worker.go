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

// OrderCompleter finalizes a paid checkout session
type OrderCompleter interface {
	CompleteOrder(ctx context.Context, sessionID string) (*model.CheckoutSessionResponse, error)
}

// SettlementWorker processes order:settle tasks
type SettlementWorker struct {
	orders OrderCompleter
	log    zerolog.Logger
}

func NewSettlementWorker(orders OrderCompleter, log zerolog.Logger) *SettlementWorker {
	return &SettlementWorker{
		orders: orders,
		log:    log.With().Str("worker", TaskTypeSettle).Logger(),
	}
}

func (w *SettlementWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload settlePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.orders.CompleteOrder(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidTransition) {
			w.log.Warn().Err(err).Str("session_id", payload.SessionID).Msg("settlement skipped")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.log.Debug().Str("session_id", payload.SessionID).Str("order_id", result.OrderID).Msg("order settled")
	return nil
}
