package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DesignStatus is the lifecycle state of a generation job
type DesignStatus string

const (
	DesignStatusPending    DesignStatus = "PENDING"
	DesignStatusProcessing DesignStatus = "PROCESSING"
	DesignStatusCompleted  DesignStatus = "COMPLETED"
	DesignStatusFailed     DesignStatus = "FAILED"
)

var ValidDesignStatuses = []DesignStatus{
	DesignStatusPending, DesignStatusProcessing, DesignStatusCompleted, DesignStatusFailed,
}

// IsTerminal reports whether no further mutation is allowed
func (s DesignStatus) IsTerminal() bool {
	return s == DesignStatusCompleted || s == DesignStatusFailed
}

// IsValid reports whether s is a known status
func (s DesignStatus) IsValid() bool {
	for _, v := range ValidDesignStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// rank orders statuses so that transitions only move forward
func (s DesignStatus) rank() int {
	switch s {
	case DesignStatusPending:
		return 0
	case DesignStatusProcessing:
		return 1
	case DesignStatusCompleted, DesignStatusFailed:
		return 2
	}
	return -1
}

// Before reports whether s comes strictly before other in the lifecycle
func (s DesignStatus) Before(other DesignStatus) bool {
	return s.rank() < other.rank()
}

// DesignJob is one design-generation request and its progress
type DesignJob struct {
	ID              string           `json:"id"`
	Status          DesignStatus     `json:"status"`
	Progress        int              `json:"progress"`
	CurrentStep     string           `json:"currentStep"`
	Style           string           `json:"style"`
	UploadedImages  []UploadedImage  `json:"uploadedImages"`
	GeneratedImages []GeneratedImage `json:"generatedImages,omitempty"`
	Mockups         []Mockup         `json:"mockups,omitempty"`
	Error           *string          `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	DispatchedAt    *time.Time       `json:"dispatchedAt,omitempty"`
	// CompletedAt is set exactly once, when the first terminal update is applied.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// UploadedImage references a source photo in object storage
type UploadedImage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// GeneratedImage is an artwork produced by the generation backend
type GeneratedImage struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Style string `json:"style"`
}

// Mockup is the generated artwork rendered on a product
type Mockup struct {
	ID          string          `json:"id"`
	ProductType string          `json:"productType"`
	ProductName string          `json:"productName"`
	ImageURL    string          `json:"imageUrl"`
	Price       decimal.Decimal `json:"price"`
}

// MockupURL is one entry of a webhook's mockup list
type MockupURL struct {
	ProductType string `json:"product_type"`
	URL         string `json:"url"`
}

// WebhookPayload is the status update pushed by the generation backend
type WebhookPayload struct {
	DesignID    string       `json:"design_id"`
	Status      DesignStatus `json:"status"`
	Progress    *int         `json:"progress,omitempty"`
	CurrentStep string       `json:"current_step,omitempty"`
	AIImageURL  string       `json:"ai_image_url,omitempty"`
	MockupURLs  []MockupURL  `json:"mockup_urls,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// SubmitDesignResponse is returned when a design request is accepted
type SubmitDesignResponse struct {
	DesignID    string       `json:"designId"`
	Status      DesignStatus `json:"status"`
	Progress    int          `json:"progress"`
	CurrentStep string       `json:"currentStep"`
}

// DesignStatusResponse is the polling snapshot of a job
type DesignStatusResponse struct {
	ID              string           `json:"id"`
	Status          DesignStatus     `json:"status"`
	Progress        int              `json:"progress"`
	CurrentStep     string           `json:"currentStep"`
	Style           string           `json:"style"`
	UploadedImages  []UploadedImage  `json:"uploadedImages"`
	GeneratedImages []GeneratedImage `json:"generatedImages,omitempty"`
	Mockups         []Mockup         `json:"mockups,omitempty"`
	Error           *string          `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// NewDesignStatusResponse builds the polling view. Results are only exposed once completed.
func NewDesignStatusResponse(job *DesignJob) *DesignStatusResponse {
	resp := &DesignStatusResponse{
		ID:             job.ID,
		Status:         job.Status,
		Progress:       job.Progress,
		CurrentStep:    job.CurrentStep,
		Style:          job.Style,
		UploadedImages: job.UploadedImages,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	if job.Status == DesignStatusCompleted {
		resp.GeneratedImages = job.GeneratedImages
		resp.Mockups = job.Mockups
	}
	return resp
}
