package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/model"
)

// localScheduler settles orders on a goroutine per session
type localScheduler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	complete func(ctx context.Context, id string) (*model.CheckoutSessionResponse, error)
	log      zerolog.Logger
}

func newLocalScheduler(complete func(ctx context.Context, id string) (*model.CheckoutSessionResponse, error), log zerolog.Logger) *localScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &localScheduler{
		ctx:      ctx,
		cancel:   cancel,
		complete: complete,
		log:      log,
	}
}

func (l *localScheduler) ScheduleSettlement(_ context.Context, sessionID string, delay time.Duration) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-l.ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := l.complete(l.ctx, sessionID); err != nil {
			l.log.Error().Err(err).Str("session_id", sessionID).Msg("settlement failed")
		}
	}()
	return nil
}

// Close cancels pending settlements and waits for running ones
func (l *localScheduler) Close() {
	l.cancel()
	l.wg.Wait()
}
