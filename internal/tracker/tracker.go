package tracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/catalog"
	"github.com/petmerch/api/internal/client"
	"github.com/petmerch/api/internal/model"
	"github.com/petmerch/api/internal/store"
)

const (
	progressQueued = 5
	stepQueued     = "Files uploaded, queued for processing"
	mb             = 1024 * 1024
)

// Notifier is told about every applied job change
type Notifier interface {
	Notify(job *model.DesignJob)
}

type nopNotifier struct{}

func (nopNotifier) Notify(*model.DesignJob) {}

// Upload is one photo of a submission
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// BytesUpload wraps an in-memory photo
func BytesUpload(name, contentType string, data []byte) Upload {
	return Upload{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// SubmitRequest is a new design request
type SubmitRequest struct {
	Images []Upload
	Style  string
}

// Options hold the submission limits of the active profile
type Options struct {
	MaxFiles    int
	MaxFileSize int64
	Now         func() time.Time
}

// Tracker owns the lifecycle of design generation jobs
type Tracker struct {
	jobs       store.JobStore
	storage    client.StorageClient
	dispatcher Dispatcher
	notifier   Notifier
	opts       Options
	log        zerolog.Logger
}

func New(jobs store.JobStore, storage client.StorageClient, dispatcher Dispatcher, notifier Notifier, opts Options, log zerolog.Logger) *Tracker {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 5
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 5 * mb
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Tracker{
		jobs:       jobs,
		storage:    storage,
		dispatcher: dispatcher,
		notifier:   notifier,
		opts:       opts,
		log:        log.With().Str("component", "tracker").Logger(),
	}
}

// Validate checks a submission without side effects
func (t *Tracker) Validate(req *SubmitRequest) error {
	if req == nil || len(req.Images) == 0 {
		return model.NewValidationError("files", "At least one image is required")
	}
	if len(req.Images) > t.opts.MaxFiles {
		return model.NewValidationError("files", fmt.Sprintf("Maximum %d images allowed", t.opts.MaxFiles))
	}
	for i, img := range req.Images {
		field := fmt.Sprintf("files[%d]", i)
		if !strings.HasPrefix(strings.ToLower(img.ContentType), "image/") {
			return model.NewValidationError(field, fmt.Sprintf("%s is not an image", img.Name))
		}
		if img.Size > t.opts.MaxFileSize {
			return model.NewValidationError(field, fmt.Sprintf("%s exceeds the %dMB limit", img.Name, t.opts.MaxFileSize/mb))
		}
		if img.Open == nil {
			return model.NewValidationError(field, "image has no content")
		}
	}
	if req.Style != "" {
		if _, ok := catalog.LookupStyle(req.Style); !ok {
			return model.NewValidationError("style", fmt.Sprintf("unknown style %q", req.Style))
		}
	}
	return nil
}

// Submit validates, stores the photos, persists a PENDING job and dispatches it.
// A dispatch failure is logged and leaves the job PENDING.
func (t *Tracker) Submit(ctx context.Context, req *SubmitRequest) (*model.DesignJob, error) {
	if err := t.Validate(req); err != nil {
		return nil, err
	}

	style := req.Style
	if style == "" {
		style = string(catalog.DefaultStyle)
	}

	id := uuid.New().String()
	images, err := t.upload(ctx, id, req.Images)
	if err != nil {
		return nil, err
	}

	now := t.opts.Now()
	job := &model.DesignJob{
		ID:             id,
		Status:         model.DesignStatusPending,
		Progress:       progressQueued,
		CurrentStep:    stepQueued,
		Style:          style,
		UploadedImages: images,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := t.jobs.Put(ctx, job); err != nil {
		t.cleanup(id, images)
		return nil, err
	}

	t.log.Info().Str("design_id", id).Str("style", style).Int("images", len(images)).Msg("design submitted")

	if err := t.dispatcher.Dispatch(ctx, id); err != nil {
		t.log.Warn().Err(err).Str("design_id", id).Msg("dispatch failed, job stays pending")
	}

	return job, nil
}

func (t *Tracker) upload(ctx context.Context, id string, uploads []Upload) ([]model.UploadedImage, error) {
	images := make([]model.UploadedImage, 0, len(uploads))
	for i, u := range uploads {
		key := client.UploadKey(id, i, u.Name)

		body, err := u.Open()
		if err != nil {
			t.cleanup(id, images)
			return nil, &model.StorageError{Op: "open " + u.Name, Err: err}
		}
		url, err := t.storage.Upload(ctx, key, body, u.ContentType)
		body.Close()
		if err != nil {
			t.cleanup(id, images)
			return nil, &model.StorageError{Op: "upload " + key, Err: err}
		}

		images = append(images, model.UploadedImage{
			ID:          key,
			Name:        u.Name,
			ContentType: u.ContentType,
			Size:        u.Size,
			URL:         url,
		})
	}
	return images, nil
}

// cleanup removes photos of a submission that could not be accepted
func (t *Tracker) cleanup(id string, images []model.UploadedImage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, img := range images {
		if err := t.storage.Delete(ctx, img.ID); err != nil {
			t.log.Warn().Err(err).Str("design_id", id).Str("key", img.ID).Msg("failed to remove upload")
		}
	}
}

// Status returns the stored job
func (t *Tracker) Status(ctx context.Context, id string) (*model.DesignJob, error) {
	return t.jobs.Get(ctx, id)
}

// View returns the polling snapshot of a job
func (t *Tracker) View(ctx context.Context, id string) (*model.DesignStatusResponse, error) {
	job, err := t.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewDesignStatusResponse(job), nil
}

// ApplyExternalUpdate merges a backend update into its job. Duplicates and
// updates to finished jobs are absorbed and reported with changed=false.
func (t *Tracker) ApplyExternalUpdate(ctx context.Context, update *model.WebhookPayload) (*model.DesignJob, bool, error) {
	if err := ValidateUpdate(update); err != nil {
		return nil, false, err
	}

	changed := false
	job, err := t.jobs.Patch(ctx, update.DesignID, func(job *model.DesignJob) (bool, error) {
		var err error
		changed, err = Merge(job, update, t.opts.Now())
		return changed, err
	})
	if err != nil {
		return nil, false, err
	}

	logEvent := t.log.Info()
	if !changed {
		logEvent = t.log.Debug()
	}
	logEvent.
		Str("design_id", job.ID).
		Str("update_status", string(update.Status)).
		Str("status", string(job.Status)).
		Int("progress", job.Progress).
		Bool("changed", changed).
		Msg("external update")

	if changed {
		t.notifier.Notify(job)
	}
	return job, changed, nil
}

// Wait polls the job in-process until it is terminal
func (t *Tracker) Wait(ctx context.Context, id string, interval time.Duration) (*model.DesignStatusResponse, error) {
	return Poll(ctx, id, t.View, PollOptions{Interval: interval})
}
