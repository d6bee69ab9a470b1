package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/auth"
	"github.com/petmerch/api/internal/catalog"
	"github.com/petmerch/api/internal/model"
)

const simulatedDeliveryAttempts = 3

// SimulatedBackend stands in for the generation backend in the simulation profile.
// It accepts every trigger and later delivers webhook updates to the callback URL,
// the same way the real worker does.
type SimulatedBackend struct {
	httpClient *http.Client
	delay      time.Duration
	secret     string
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulatedBackend creates a backend that completes each design after delay.
// When secret is set every delivery carries an x-runpod-signature header.
func NewSimulatedBackend(delay time.Duration, secret string, log zerolog.Logger) *SimulatedBackend {
	ctx, cancel := context.WithCancel(context.Background())
	return &SimulatedBackend{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delay:      delay,
		secret:     secret,
		log:        log.With().Str("client", "simulated-backend").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (b *SimulatedBackend) Trigger(ctx context.Context, req *TriggerRequest) (*TriggerResult, error) {
	if req.CallbackURL == "" {
		return nil, fmt.Errorf("callback URL is required")
	}

	b.wg.Add(1)
	go b.run(*req)

	return &TriggerResult{ID: "sim-" + req.DesignID, Status: "IN_QUEUE"}, nil
}

func (b *SimulatedBackend) IsConfigured() bool { return false }

// Close stops pending deliveries
func (b *SimulatedBackend) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *SimulatedBackend) run(req TriggerRequest) {
	defer b.wg.Done()

	half := b.delay / 2
	progress := 50
	steps := []*model.WebhookPayload{
		{DesignID: req.DesignID, Status: model.DesignStatusProcessing, Progress: &progress, CurrentStep: "Generating AI artwork"},
		SimulatedCompletion(req.DesignID, req.Style),
	}

	for _, payload := range steps {
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(half):
		}
		if err := b.deliver(req.CallbackURL, payload); err != nil {
			b.log.Error().Err(err).Str("design_id", req.DesignID).Str("status", string(payload.Status)).Msg("webhook delivery failed")
			return
		}
	}
}

// deliver posts one update, retrying a few times like an at-least-once sender
func (b *SimulatedBackend) deliver(url string, payload *model.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= simulatedDeliveryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(b.ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if b.secret != "" {
			req.Header.Set("x-runpod-signature", auth.SignWebhook(b.secret, body))
		}

		resp, err := b.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return lastErr
}

// SimulatedCompletion builds the COMPLETED update a successful generation would send:
// one artwork and a mockup for every catalog product.
func SimulatedCompletion(designID, style string) *model.WebhookPayload {
	progress := 100
	label := strings.ReplaceAll(style, "_", "+")

	mockups := make([]model.MockupURL, 0, len(catalog.ProductTypes()))
	for _, productType := range catalog.ProductTypes() {
		mockups = append(mockups, model.MockupURL{
			ProductType: productType,
			URL:         fmt.Sprintf("https://via.placeholder.com/400x400/6366f1/ffffff?text=%s+Mockup", productType),
		})
	}

	return &model.WebhookPayload{
		DesignID:    designID,
		Status:      model.DesignStatusCompleted,
		Progress:    &progress,
		CurrentStep: "Completed",
		AIImageURL:  fmt.Sprintf("https://via.placeholder.com/512x512/6366f1/ffffff?text=AI+Generated+%s+Design", label),
		MockupURLs:  mockups,
	}
}
