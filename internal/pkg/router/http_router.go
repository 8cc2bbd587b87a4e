package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nurseshelf/nurseshelf/internal/pkg/middleware"
)

type HttpRouter struct {
	opts Options
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware(h.opts.Sessions))

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter(opts Options) *HttpRouter {
	return &HttpRouter{opts: opts}
}
