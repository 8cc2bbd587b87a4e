package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nurseshelf/nurseshelf/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	ctrl := h.opts.Controller

	app.Get("/healthz", ctrl.HandleHealth)

	// Provider webhooks (no CSRF, signature-verified by the gateway)
	app.Post("/webhooks/stripe", ctrl.HandleStripeWebhook)
	app.Post("/webhooks/paypal", ctrl.HandlePayPalWebhook)

	// Provider return URL and order pages
	app.Get("/checkout/return", ctrl.HandleCheckoutReturn)
	app.Get("/orders/:id/confirmation", ctrl.HandleOrderConfirmation)

	// Downloads
	app.Get("/downloads", middleware.RequireAPISessionAuth, ctrl.HandleListPurchases)
	app.Get("/downloads/:purchaseId", middleware.RequireAuth, ctrl.HandleDownload)
}
