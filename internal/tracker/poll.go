package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/petmerch/api/internal/model"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxNotFound  = 3
)

// FetchFunc returns the current snapshot of a job
type FetchFunc func(ctx context.Context, id string) (*model.DesignStatusResponse, error)

// PollOptions configure Poll
type PollOptions struct {
	Interval time.Duration
	// MaxNotFound bounds consecutive NotFound or storage failures before giving up
	MaxNotFound int
	OnUpdate    func(*model.DesignStatusResponse)
}

// Poll fetches the job now and then once per interval until it is terminal.
// It returns the last snapshot seen; on cancellation the error is ctx.Err().
func Poll(ctx context.Context, id string, fetch FetchFunc, opts PollOptions) (*model.DesignStatusResponse, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxNotFound <= 0 {
		opts.MaxNotFound = DefaultMaxNotFound
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last *model.DesignStatusResponse
	failures := 0

	for {
		snapshot, err := fetch(ctx, id)
		switch {
		case err == nil:
			failures = 0
			last = snapshot
			if opts.OnUpdate != nil {
				opts.OnUpdate(snapshot)
			}
			if snapshot.Status.IsTerminal() {
				return snapshot, nil
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrStorage):
			failures++
			if failures >= opts.MaxNotFound {
				return last, err
			}
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
