package router

import (
	"github.com/gofiber/fiber/v2"
	fsession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nurseshelf/nurseshelf/app/controllers"
)

// Router registers one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Options carries what the routers need from main.
type Options struct {
	Controller *controllers.Controller
	Sessions   *fsession.Store
	// LimiterStorage backs the checkout rate limiter; nil keeps counts in memory.
	LimiterStorage fiber.Storage
	Gatherer       prometheus.Gatherer
	MetricsUser    string
	MetricsPass    string
	SecureCookies  bool
}

func InstallRouter(app *fiber.App, opts Options) {
	// HttpRouter installs the UserContext middleware the API routes depend on.
	setup(app, NewHttpRouter(opts), NewApiRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
