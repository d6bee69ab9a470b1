package tracker

import (
	"fmt"
	"time"

	"github.com/petmerch/api/internal/catalog"
	"github.com/petmerch/api/internal/model"
)

const (
	stepCompleted     = "Design complete"
	stepFailed        = "Generation failed"
	defaultFailReason = "Generation failed"
)

// ValidateUpdate checks a webhook update before it touches any job
func ValidateUpdate(update *model.WebhookPayload) error {
	if update == nil || update.DesignID == "" {
		return model.NewValidationError("design_id", "design_id is required")
	}
	if update.Status == "" {
		return model.NewValidationError("status", "status is required")
	}
	if !update.Status.IsValid() {
		return model.NewValidationError("status", fmt.Sprintf("unknown status %q", update.Status))
	}
	if update.Progress != nil && (*update.Progress < 0 || *update.Progress > 100) {
		return model.NewValidationError("progress", "progress must be between 0 and 100")
	}
	return nil
}

// Merge folds an external update into job and reports whether anything changed.
// A terminal job absorbs every update. Status never moves backwards and
// progress never decreases.
func Merge(job *model.DesignJob, update *model.WebhookPayload, now time.Time) (bool, error) {
	if err := ValidateUpdate(update); err != nil {
		return false, err
	}
	if job.Status.IsTerminal() || job.CompletedAt != nil {
		return false, nil
	}
	if update.Status.Before(job.Status) {
		return false, nil
	}

	changed := false

	if update.Status != job.Status {
		job.Status = update.Status
		changed = true
	}
	if update.Progress != nil && *update.Progress > job.Progress {
		job.Progress = *update.Progress
		changed = true
	}
	if update.CurrentStep != "" && update.CurrentStep != job.CurrentStep {
		job.CurrentStep = update.CurrentStep
		changed = true
	}

	switch job.Status {
	case model.DesignStatusCompleted:
		job.Progress = 100
		if update.CurrentStep == "" {
			job.CurrentStep = stepCompleted
		}
		if update.AIImageURL != "" {
			job.GeneratedImages = []model.GeneratedImage{{
				ID:    catalog.GeneratedImageID(job.ID, 1),
				URL:   update.AIImageURL,
				Style: job.Style,
			}}
		}
		job.Mockups = mapMockups(job.ID, update.MockupURLs)
		job.Error = nil
		job.CompletedAt = &now
		changed = true
	case model.DesignStatusFailed:
		reason := update.Error
		if reason == "" {
			reason = defaultFailReason
		}
		job.Error = &reason
		if update.CurrentStep == "" {
			job.CurrentStep = stepFailed
		}
		job.CompletedAt = &now
		changed = true
	}

	if changed {
		job.UpdatedAt = now
	}
	return changed, nil
}

func mapMockups(designID string, urls []model.MockupURL) []model.Mockup {
	if len(urls) == 0 {
		return nil
	}
	mockups := make([]model.Mockup, 0, len(urls))
	for _, m := range urls {
		product := catalog.ProductFor(m.ProductType)
		mockups = append(mockups, model.Mockup{
			ID:          catalog.MockupID(designID, m.ProductType),
			ProductType: m.ProductType,
			ProductName: product.Name,
			ImageURL:    m.URL,
			Price:       product.Price,
		})
	}
	return mockups
}
