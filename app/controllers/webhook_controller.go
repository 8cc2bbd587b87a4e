package controllers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

func (h *Controller) HandleStripeWebhook(c *fiber.Ctx) error {
	return h.handleWebhook(c, models.GatewayStripe)
}

func (h *Controller) HandlePayPalWebhook(c *fiber.Ctx) error {
	return h.handleWebhook(c, models.GatewayPayPal)
}

// handleWebhook answers 200 once an event is applied or known, 400 for
// deliveries that will never succeed and 500 when the provider should retry.
func (h *Controller) handleWebhook(c *fiber.Ctx, gateway string) error {
	// the signature covers the exact bytes, copy them before fiber reuses the buffer
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := make(http.Header)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers.Add(string(k), string(v))
	})

	ctx, cancel := requestContext(c, verifyTimeout)
	defer cancel()
	res, err := h.reconciler.HandleWebhook(ctx, gateway, payment.WebhookRequest{Body: rawBody, Headers: headers})
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			return c.Status(fiber.StatusBadRequest).JSON(apiError{Code: "unknown_order", Message: "No order for this payment."})
		}
		return writeError(c, err)
	}

	body := fiber.Map{"received": true}
	switch {
	case res.Duplicate:
		body["duplicate"] = true
	case res.Ignored:
		body["ignored"] = true
	}
	return c.JSON(body)
}
