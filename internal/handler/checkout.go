package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/petmerch/api/internal/checkout"
	"github.com/petmerch/api/internal/middleware"
	"github.com/petmerch/api/internal/model"
	"github.com/petmerch/api/pkg/response"
)

type CheckoutHandler struct {
	service   *checkout.Service
	validator *validator.Validate
}

func NewCheckoutHandler(svc *checkout.Service, v *validator.Validate) *CheckoutHandler {
	return &CheckoutHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/checkout
func (h *CheckoutHandler) Create(c *fiber.Ctx) error {
	var req model.CreateCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, result)
}

// Get handles GET /api/checkout/:sessionId
func (h *CheckoutHandler) Get(c *fiber.Ctx) error {
	session, err := h.owned(c)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// Continue handles POST /api/checkout/:sessionId/continue
func (h *CheckoutHandler) Continue(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.Continue(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Back handles POST /api/checkout/:sessionId/back
func (h *CheckoutHandler) Back(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.Back(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Shipping handles PUT /api/checkout/:sessionId/shipping. An incomplete address
// is saved and answered with 200 and the missing fields; the step does not advance.
func (h *CheckoutHandler) Shipping(c *fiber.Ctx) error {
	var info model.ShippingInfo
	if err := c.BodyParser(&info); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if _, err := h.owned(c); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.SubmitShipping(c.UserContext(), c.Params("sessionId"), info)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// PaymentMethod handles PUT /api/checkout/:sessionId/payment-method
func (h *CheckoutHandler) PaymentMethod(c *fiber.Ctx) error {
	var req model.PaymentMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if _, err := h.owned(c); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.SelectPaymentMethod(c.UserContext(), c.Params("sessionId"), req.Method)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Terms handles PUT /api/checkout/:sessionId/terms
func (h *CheckoutHandler) Terms(c *fiber.Ctx) error {
	var req model.TermsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if _, err := h.owned(c); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.SetAgreeToTerms(c.UserContext(), c.Params("sessionId"), req.AgreeToTerms)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Pay handles POST /api/checkout/:sessionId/pay. A refusal answers 402 with
// the updated session as details.
func (h *CheckoutHandler) Pay(c *fiber.Ctx) error {
	var req model.PayRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if req.PayPal != nil {
		if err := h.validator.Struct(req.PayPal); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
	}

	if _, err := h.owned(c); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.Pay(c.UserContext(), c.Params("sessionId"), &req)
	if err != nil {
		var pErr *model.PaymentError
		if errors.As(err, &pErr) && result != nil {
			return response.PaymentError(c, pErr.Reason, result)
		}
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// owned loads the session and hides sessions of other users
func (h *CheckoutHandler) owned(c *fiber.Ctx) (*model.CheckoutSessionResponse, error) {
	id := c.Params("sessionId")
	session, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if session.UserID != "" && session.UserID != middleware.GetUserID(c) {
		return nil, &model.NotFoundError{Resource: "checkout session", ID: id}
	}
	return session, nil
}
