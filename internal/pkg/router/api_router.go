package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsPath = "/metrics"
	monitorPath = "/monitor"
)

// ApiRouter serves the operator endpoints.
type ApiRouter struct {
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// without a password the operator endpoints are not exposed
	if h.opts.MetricsPass == "" {
		return
	}
	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{h.opts.MetricsUser: h.opts.MetricsPass},
	})

	gatherer := h.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get(metricsPath, auth, adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	app.Get(monitorPath, auth, monitor.New(monitor.Config{Title: "NurseShelf"}))
}

func NewApiRouter(opts Options) *ApiRouter {
	return &ApiRouter{opts: opts}
}

// checkoutLimiter throttles order and payment calls per client IP.
func checkoutLimiter(storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          30,
		Expiration:   time.Minute,
		Storage:      storage,
		KeyGenerator: clientIP,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, please slow down.",
			})
		},
	})
}
