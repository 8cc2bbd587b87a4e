package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
	"github.com/nurseshelf/nurseshelf/internal/pkg/usercontext"
)

type paymentSessionRequest struct {
	Gateway string `json:"gateway" validate:"required,oneof=stripe paypal"`
}

type paymentSessionResponse struct {
	Gateway           string    `json:"gateway"`
	ProviderReference string    `json:"providerReference"`
	CheckoutURL       string    `json:"checkoutUrl"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Reused            bool      `json:"reused"`
}

type verifyResponse struct {
	OrderID       uint   `json:"orderId"`
	OrderNumber   string `json:"orderNumber,omitempty"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	Duplicate     bool   `json:"duplicate"`
}

// HandleCreatePaymentSession starts or reuses the provider checkout of an order.
func (h *Controller) HandleCreatePaymentSession(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return writeError(c, checkout.ErrOrderNotFound)
	}
	var req paymentSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid_payload", "Invalid payment request.")
	}
	req.Gateway = strings.ToLower(strings.TrimSpace(req.Gateway))
	if err := h.validate.Struct(req); err != nil {
		return writeError(c, fmt.Errorf("%w: %q", payment.ErrUnknownGateway, req.Gateway))
	}

	u := usercontext.GetUserContext(c)
	if u.IsAnonymous() {
		return writeError(c, checkout.ErrNoUser)
	}

	ctx, cancel := requestContext(c, verifyTimeout)
	defer cancel()
	order, err := h.checkout.GetOrder(ctx, uint(id))
	if err != nil {
		return writeError(c, err)
	}
	if !u.CanAccessOrder(order.ID, order.UserID) {
		return writeError(c, checkout.ErrOrderNotFound)
	}
	res, err := h.checkout.StartPayment(ctx, checkout.StartPaymentInput{
		OrderID: order.ID,
		Gateway: req.Gateway,
		UserID:  *order.UserID,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(paymentSessionResponse{
		Gateway:           res.Gateway,
		ProviderReference: res.ProviderReference,
		CheckoutURL:       res.CheckoutURL,
		ExpiresAt:         res.ExpiresAt,
		Reused:            res.Reused,
	})
}

// HandleVerifyPayment asks the provider for the state of a checkout the
// buyer just returned from. Stripe sends ?session_id=, PayPal ?paymentId= or
// ?token=.
func (h *Controller) HandleVerifyPayment(c *fiber.Ctx) error {
	gateway, reference := verifyTarget(c)
	if reference == "" {
		return badRequest(c, "missing_reference", "A payment reference is required.")
	}

	ctx, cancel := requestContext(c, verifyTimeout)
	defer cancel()
	res, err := h.reconciler.Verify(ctx, gateway, reference)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(verifyResponse{
		OrderID:       res.OrderID,
		OrderNumber:   res.OrderNumber,
		Status:        res.Status,
		PaymentStatus: res.PaymentStatus,
		Duplicate:     res.Duplicate,
	})
}

// HandleCheckoutReturn is the provider return URL. The payment is verified
// before the buyer sees the confirmation page.
func (h *Controller) HandleCheckoutReturn(c *fiber.Ctx) error {
	gateway, reference := verifyTarget(c)
	if reference == "" {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "We could not find your payment."}).Redirect("/cart")
	}

	ctx, cancel := requestContext(c, verifyTimeout)
	defer cancel()
	res, err := h.reconciler.Verify(ctx, gateway, reference)
	if err != nil {
		msg := mapError(err).Message
		if errors.Is(err, checkout.ErrAmountMismatch) && res != nil && res.OrderID != 0 {
			return flash.WithError(c, fiber.Map{"type": "error", "message": msg}).
				Redirect(fmt.Sprintf("/orders/%d/confirmation", res.OrderID))
		}
		return flash.WithError(c, fiber.Map{"type": "error", "message": msg}).Redirect("/cart")
	}

	if res.Status == models.OrderStatusFailed {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Your payment was declined."}).
			Redirect(fmt.Sprintf("/orders/%d/confirmation", res.OrderID))
	}
	return c.Redirect(fmt.Sprintf("/orders/%d/confirmation", res.OrderID), fiber.StatusSeeOther)
}

// verifyTarget reads the gateway and provider reference from the query.
func verifyTarget(c *fiber.Ctx) (gateway, reference string) {
	gateway = strings.ToLower(strings.TrimSpace(c.Query("gateway")))
	if ref := strings.TrimSpace(c.Query("session_id")); ref != "" {
		if gateway == "" {
			gateway = models.GatewayStripe
		}
		return gateway, ref
	}
	for _, key := range []string{"paymentId", "token"} {
		if ref := strings.TrimSpace(c.Query(key)); ref != "" {
			if gateway == "" {
				gateway = models.GatewayPayPal
			}
			return gateway, ref
		}
	}
	return gateway, ""
}
