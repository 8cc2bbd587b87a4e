package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
	"github.com/nurseshelf/nurseshelf/internal/pkg/session"
	"github.com/nurseshelf/nurseshelf/internal/pkg/usercontext"
)

type createOrderRequest struct {
	Items           []checkout.CartItem `json:"items"`
	IsGuestCheckout bool                `json:"isGuestCheckout"`
	UserEmail       string              `json:"userEmail"`
}

type createOrderResponse struct {
	OrderID     uint   `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	TotalAmount string `json:"totalAmount"`
	Currency    string `json:"currency"`
}

// HandleCreateOrder prices the cart server side and stores a pending order.
// Client supplied prices are never read.
func (h *Controller) HandleCreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid_cart", "The cart could not be read.")
	}

	u := usercontext.GetUserContext(c)
	in := checkout.CreateOrderInput{
		Items:           req.Items,
		IsGuestCheckout: req.IsGuestCheckout,
		GuestEmail:      strings.TrimSpace(req.UserEmail),
	}
	if u.IsLoggedIn {
		in.UserID = u.UserID
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()
	res, err := h.checkout.CreateOrder(ctx, in)
	if err != nil {
		return writeError(c, err)
	}

	if !u.IsLoggedIn {
		// the anonymous buyer may pay for and view this order, and no other
		if err := session.AddGuestOrder(h.sessions, c, res.OrderID); err != nil {
			log.Warnf("[Order] Could not remember guest order %s: %v", res.OrderNumber, err)
		}
	}

	return c.JSON(createOrderResponse{
		OrderID:     res.OrderID,
		OrderNumber: res.OrderNumber,
		TotalAmount: money.Format(res.TotalAmount, res.Currency),
		Currency:    res.Currency,
	})
}

// HandleOrderConfirmation renders the order summary for its buyer.
func (h *Controller) HandleOrderConfirmation(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return h.renderError(c, fiber.StatusNotFound, "Order not found.")
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()
	order, err := h.checkout.GetOrder(ctx, uint(id))
	if err != nil {
		e := mapError(err)
		return h.renderError(c, e.Status, e.Message)
	}
	if !usercontext.GetUserContext(c).CanAccessOrder(order.ID, order.UserID) {
		return h.renderError(c, fiber.StatusNotFound, "Order not found.")
	}

	var purchases []models.Purchase
	if order.Status == models.OrderStatusPaid {
		if purchases, err = h.checkout.OrderPurchases(ctx, order.ID); err != nil {
			log.Errorf("[Order] Could not load purchases of order %s: %v", order.OrderNumber, err)
		}
	}

	return c.Render("orders/confirmation", fiber.Map{
		"Title":     "Order " + order.OrderNumber,
		"Order":     order,
		"Lines":     confirmationLines(order),
		"Total":     money.Format(order.TotalAmount, order.Currency),
		"Paid":      order.Status == models.OrderStatusPaid,
		"Pending":   order.Status == models.OrderStatusPending,
		"Failed":    order.Status == models.OrderStatusFailed,
		"Purchases": purchases,
		"Gateways":  h.checkout.Gateways().Names(),
		"Flash":     flash.Get(c),
	}, "layouts/main")
}

type confirmationLine struct {
	Title     string
	Quantity  int
	UnitPrice string
	LineTotal string
}

func confirmationLines(o *models.Order) []confirmationLine {
	lines := make([]confirmationLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, confirmationLine{
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: money.Format(it.Price, o.Currency),
			LineTotal: money.Format(it.LineTotal(), o.Currency),
		})
	}
	return lines
}

func (h *Controller) renderError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).Render("errors/error", fiber.Map{
		"Title":   "Something went wrong",
		"Status":  status,
		"Message": message,
	}, "layouts/main")
}
