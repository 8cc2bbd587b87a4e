package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
)

const csrfHeader = "X-Csrf-Token"

// registerCSRFProtectedRoutes covers the state-changing JSON endpoints called
// from the storefront. The token is read from a cookie set on any GET and sent
// back in the X-Csrf-Token header.
func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	ctrl := h.opts.Controller
	csrfConf := csrf.Config{
		KeyLookup:      "header:" + csrfHeader,
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   h.opts.SecureCookies,
		Session:        h.opts.Sessions,
		Next:           isOperatorPath,
	}

	group := app.Group("", cors.New(), csrf.New(csrfConf))
	group.Get("/csrf", func(c *fiber.Ctx) error {
		token, _ := c.Locals("csrf").(string)
		return c.JSON(fiber.Map{"token": token})
	})
	group.Post("/login", ctrl.HandleAuthLogin)
	group.Post("/logout", ctrl.HandleAuthLogout)

	limit := checkoutLimiter(h.opts.LimiterStorage)
	group.Post("/order", limit, ctrl.HandleCreateOrder)
	group.Post("/order/:id/payment-session", limit, ctrl.HandleCreatePaymentSession)
	group.Post("/verify-payment", limit, ctrl.HandleVerifyPayment)
}

// isOperatorPath reports whether the request is for an endpoint installed by
// ApiRouter. Those sit behind basic auth and get neither a session nor a token.
func isOperatorPath(c *fiber.Ctx) bool {
	switch c.Path() {
	case metricsPath, monitorPath:
		return true
	}
	return false
}
