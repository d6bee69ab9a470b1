package tracker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/client"
	"github.com/petmerch/api/internal/model"
	"github.com/petmerch/api/internal/store"
)

const (
	progressDispatched = 10
	stepDispatched     = "AI processing started"
)

// Dispatcher hands a persisted PENDING job to the generation backend
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Enqueuer puts a dispatch on a durable queue
type Enqueuer interface {
	EnqueueDispatch(ctx context.Context, jobID string) error
}

// Launcher triggers the generation backend for one job and marks it PROCESSING
type Launcher struct {
	jobs        store.JobStore
	backend     client.GenerationBackend
	callbackURL string
	notifier    Notifier
	now         func() time.Time
	log         zerolog.Logger
}

func NewLauncher(jobs store.JobStore, backend client.GenerationBackend, callbackURL string, notifier Notifier, log zerolog.Logger) *Launcher {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Launcher{
		jobs:        jobs,
		backend:     backend,
		callbackURL: callbackURL,
		notifier:    notifier,
		now:         time.Now,
		log:         log.With().Str("component", "launcher").Logger(),
	}
}

// Launch triggers the backend. Jobs that already left PENDING are skipped, so a
// redelivered queue task does not trigger twice after a success was recorded.
func (l *Launcher) Launch(ctx context.Context, jobID string) error {
	job, err := l.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.DesignStatusPending {
		l.log.Debug().Str("design_id", jobID).Str("status", string(job.Status)).Msg("job already dispatched")
		return nil
	}

	imageURLs := make([]string, len(job.UploadedImages))
	for i, img := range job.UploadedImages {
		imageURLs[i] = img.URL
	}

	result, err := l.backend.Trigger(ctx, &client.TriggerRequest{
		DesignID:    job.ID,
		Style:       job.Style,
		ImageURLs:   imageURLs,
		CallbackURL: l.callbackURL,
	})
	if err != nil {
		return &model.DispatchError{JobID: jobID, Err: err}
	}

	updated, err := l.jobs.Patch(ctx, jobID, func(j *model.DesignJob) (bool, error) {
		if j.Status != model.DesignStatusPending {
			return false, nil
		}
		now := l.now()
		j.Status = model.DesignStatusProcessing
		if j.Progress < progressDispatched {
			j.Progress = progressDispatched
		}
		j.CurrentStep = stepDispatched
		j.DispatchedAt = &now
		j.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		// The backend already has the run. Retrying would trigger it twice, and
		// its webhooks move the job forward on their own.
		l.log.Warn().Err(err).Str("design_id", jobID).Str("backend_id", result.ID).Msg("generation triggered but job not marked processing")
		return nil
	}

	l.log.Info().Str("design_id", jobID).Str("backend_id", result.ID).Msg("generation triggered")
	l.notifier.Notify(updated)
	return nil
}

// DirectDispatcher triggers the backend inline
type DirectDispatcher struct {
	launcher *Launcher
}

func NewDirectDispatcher(launcher *Launcher) *DirectDispatcher {
	return &DirectDispatcher{launcher: launcher}
}

func (d *DirectDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return d.launcher.Launch(ctx, jobID)
}

// QueueDispatcher defers the trigger to a queue worker, which retries failures
type QueueDispatcher struct {
	queue Enqueuer
}

func NewQueueDispatcher(queue Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{queue: queue}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	if err := d.queue.EnqueueDispatch(ctx, jobID); err != nil {
		return &model.DispatchError{JobID: jobID, Err: err}
	}
	return nil
}
