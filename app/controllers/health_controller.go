package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HandleHealth pings the database and the cache.
func (h *Controller) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, 3*time.Second)
	defer cancel()

	checks := fiber.Map{"database": "ok", "cache": "ok"}
	healthy := true

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unavailable"
		healthy = false
	}
	if h.redis == nil || h.redis.Ping(ctx).Err() != nil {
		checks["cache"] = "unavailable"
		healthy = false
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"healthy": healthy, "checks": checks})
}
