package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nurseshelf/nurseshelf/internal/pkg/downloads"
	"github.com/nurseshelf/nurseshelf/internal/pkg/usercontext"
)

type purchaseResponse struct {
	ID            uint       `json:"id"`
	ProductID     uint       `json:"productId"`
	OrderID       uint       `json:"orderId"`
	Status        string     `json:"status"`
	AccessExpires *time.Time `json:"accessExpires,omitempty"`
	DownloadsLeft *int       `json:"downloadsLeft,omitempty"`
	DownloadCount int        `json:"downloadCount"`
}

// HandleDownload redirects the owner of a purchase to a short-lived file URL.
func (h *Controller) HandleDownload(c *fiber.Ctx) error {
	id, err := c.ParamsInt("purchaseId")
	if err != nil || id <= 0 {
		return writeError(c, downloads.ErrNotFound)
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()
	grant, err := h.downloads.Issue(ctx, usercontext.GetUserID(c), uint(id))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Redirect(grant.URL, fiber.StatusFound)
}

// HandleListPurchases lists the logged-in user's purchases.
func (h *Controller) HandleListPurchases(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()
	list, err := h.downloads.ListForUser(ctx, usercontext.GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}

	out := make([]purchaseResponse, 0, len(list))
	for _, p := range list {
		out = append(out, purchaseResponse{
			ID:            p.ID,
			ProductID:     p.ProductID,
			OrderID:       p.OrderID,
			Status:        p.Status,
			AccessExpires: p.AccessExpires,
			DownloadsLeft: p.DownloadsLeft,
			DownloadCount: p.DownloadCount,
		})
	}
	return c.JSON(fiber.Map{"purchases": out})
}
