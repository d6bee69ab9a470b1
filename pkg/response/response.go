package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/petmerch/api/internal/model"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "INVALID_TRANSITION"
	CodeRateLimited     = "RATE_LIMITED"
	CodePaymentError    = "PAYMENT_ERROR"
	CodeStorageError    = "STORAGE_ERROR"
	CodeServiceError    = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, CodeConflict, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

// PaymentError reports a refused payment. details carries the session so the
// client can render the message and field errors.
func PaymentError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusPaymentRequired, CodePaymentError, message, details)
}

func StorageError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeStorageError, message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// FromError maps a domain error to its HTTP response
func FromError(c *fiber.Ctx, err error) error {
	var (
		vErr *model.ValidationError
		nErr *model.NotFoundError
		pErr *model.PaymentError
		tErr *model.TransitionError
	)

	switch {
	case errors.As(err, &vErr):
		var details interface{}
		if len(vErr.Details) > 0 {
			details = vErr.Details
		} else if vErr.Field != "" {
			details = map[string]string{vErr.Field: vErr.Message}
		}
		return ValidationError(c, vErr.Message, details)
	case errors.As(err, &nErr):
		return NotFound(c, nErr.Error())
	case errors.As(err, &pErr):
		return PaymentError(c, pErr.Reason, pErr.FieldErrors)
	case errors.As(err, &tErr):
		return Conflict(c, tErr.Error())
	case errors.Is(err, model.ErrStorage):
		return StorageError(c, "Storage temporarily unavailable")
	default:
		return ServiceError(c, err.Error())
	}
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
