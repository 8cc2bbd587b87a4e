package controllers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fsession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/downloads"
)

const (
	requestTimeout = 15 * time.Second
	// verify calls the provider synchronously
	verifyTimeout = 20 * time.Second
)

// Deps are the services the HTTP handlers use.
type Deps struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Sessions   *fsession.Store
	Checkout   *checkout.Service
	Reconciler *checkout.Reconciler
	Downloads  *downloads.Service
}

// Controller holds the HTTP handlers of the shop.
type Controller struct {
	db         *gorm.DB
	redis      *redis.Client
	sessions   *fsession.Store
	checkout   *checkout.Service
	reconciler *checkout.Reconciler
	downloads  *downloads.Service
	validate   *validator.Validate
}

func New(d Deps) *Controller {
	rec := d.Reconciler
	if rec == nil && d.Checkout != nil {
		rec = d.Checkout.Reconciler()
	}
	return &Controller{
		db:         d.DB,
		redis:      d.Redis,
		sessions:   d.Sessions,
		checkout:   d.Checkout,
		reconciler: rec,
		downloads:  d.Downloads,
		validate:   validator.New(),
	}
}

// requestContext bounds provider and database work of one request.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), timeout)
}
