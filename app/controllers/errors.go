package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/downloads"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

// apiError is the JSON error body of every API endpoint.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

// mapError translates service errors into a status and a message that is
// safe to show to buyers. Provider and database details are logged only.
func mapError(err error) apiError {
	switch {
	case errors.Is(err, checkout.ErrInvalidCart):
		return apiError{fiber.StatusBadRequest, "invalid_cart", "The cart contains items that cannot be ordered."}
	case errors.Is(err, checkout.ErrNoUser):
		return apiError{fiber.StatusUnauthorized, "no_user", "Please log in or provide an email address for guest checkout."}
	case errors.Is(err, checkout.ErrOrderNotFound):
		return apiError{fiber.StatusNotFound, "order_not_found", "Order not found."}
	case errors.Is(err, checkout.ErrInvalidOrderState):
		return apiError{fiber.StatusConflict, "invalid_order_state", "This order can no longer be paid."}
	case errors.Is(err, checkout.ErrAmountMismatch):
		return apiError{fiber.StatusBadRequest, "amount_mismatch", "The payment does not match the order total. Our team has been notified."}
	case errors.Is(err, payment.ErrInvalidSignature):
		return apiError{fiber.StatusBadRequest, "invalid_signature", "Invalid signature."}
	case errors.Is(err, payment.ErrMalformedPayload):
		return apiError{fiber.StatusBadRequest, "invalid_payload", "Invalid payload."}
	case errors.Is(err, payment.ErrUnknownGateway):
		return apiError{fiber.StatusBadRequest, "unknown_gateway", "Unsupported payment method."}
	case errors.Is(err, payment.ErrProviderAPI):
		return apiError{fiber.StatusBadGateway, "provider_unavailable", "The payment provider could not be reached. Please try again shortly."}
	case errors.Is(err, downloads.ErrNotFound):
		return apiError{fiber.StatusNotFound, "download_not_found", "Download not found."}
	case errors.Is(err, downloads.ErrForbidden):
		return apiError{fiber.StatusForbidden, "download_forbidden", "You do not have access to this download."}
	case errors.Is(err, downloads.ErrExpired), errors.Is(err, downloads.ErrNoDownloadsLeft):
		return apiError{fiber.StatusGone, "download_unavailable", "This download is no longer available."}
	case errors.Is(err, checkout.ErrWriteConflict):
		return apiError{fiber.StatusInternalServerError, "write_failed", "Something went wrong. Please try again."}
	default:
		return apiError{fiber.StatusInternalServerError, "internal_error", "Something went wrong. Please try again."}
	}
}

// writeError sends the mapped JSON error for err.
func writeError(c *fiber.Ctx, err error) error {
	e := mapError(err)
	if e.Status >= fiber.StatusInternalServerError {
		log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(e.Status).JSON(e)
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(apiError{Code: code, Message: message})
}
