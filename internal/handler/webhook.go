package handler

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/auth"
	"github.com/petmerch/api/internal/model"
	"github.com/petmerch/api/internal/tracker"
	"github.com/petmerch/api/pkg/response"
)

const signatureHeader = "x-runpod-signature"

type WebhookHandler struct {
	tracker *tracker.Tracker
	secret  string
	log     zerolog.Logger
}

func NewWebhookHandler(t *tracker.Tracker, secret string, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		tracker: t,
		secret:  secret,
		log:     log.With().Str("component", "webhook").Logger(),
	}
}

// authorized accepts either the shared secret as a bearer token or an HMAC
// signature of the raw body
func (h *WebhookHandler) authorized(c *fiber.Ctx) bool {
	if h.secret == "" {
		return true
	}
	if sig := c.Get(signatureHeader); sig != "" {
		return auth.VerifyWebhookSignature(h.secret, c.Body(), sig)
	}
	if header := c.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return auth.VerifyWebhookToken(h.secret, strings.TrimPrefix(header, "Bearer "))
	}
	return false
}

// Receive handles POST /api/webhooks/runpod. Any non-2xx answer makes the
// sender retry, so duplicates and stale updates are acknowledged with 200.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	if !h.authorized(c) {
		h.log.Warn().Str("ip", c.IP()).Msg("webhook rejected: bad signature")
		return response.Unauthorized(c, "Invalid signature")
	}

	var payload model.WebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return response.ValidationError(c, "Invalid webhook payload", nil)
	}
	if payload.DesignID == "" || payload.Status == "" {
		return response.ValidationError(c, "Missing required fields: design_id, status", nil)
	}

	job, changed, err := h.tracker.ApplyExternalUpdate(c.UserContext(), &payload)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrNotFound):
			return response.FromError(c, err)
		default:
			h.log.Error().Err(err).Str("design_id", payload.DesignID).Msg("webhook update failed")
			return response.ServiceError(c, "Webhook processing failed")
		}
	}

	message := "Webhook processed successfully"
	if !changed {
		message = "Update already applied"
	}
	return response.OK(c, fiber.Map{
		"success":  true,
		"message":  message,
		"status":   job.Status,
		"progress": job.Progress,
	})
}

// Verify handles GET /api/webhooks/runpod, echoing a verification challenge
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	if challenge := c.Query("challenge"); challenge != "" {
		return response.OK(c, fiber.Map{"challenge": challenge})
	}
	return response.OK(c, fiber.Map{
		"message": "RunPod webhook endpoint",
		"status":  "active",
	})
}
