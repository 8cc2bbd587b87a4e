package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/session"
)

type loginRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email,max=200"`
	Password string `json:"password" form:"password" validate:"required,min=6"`
}

// HandleAuthLogin starts a session for valid credentials. Guest accounts have
// no usable password and cannot log in.
func (h *Controller) HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid_payload", "Invalid login request.")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, "invalid_payload", "Email and password are required.")
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	// notice: do not tell the client which part of the login failed
	var user models.User
	err := h.db.WithContext(ctx).Where("email = ? AND is_guest = ?", req.Email, false).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return writeError(c, err)
	}
	if err != nil || !models.CheckPasswordHash(req.Password, user.Password) || user.Status != models.STATUS_ACTIVE {
		return c.Status(fiber.StatusUnauthorized).JSON(apiError{Code: "invalid_credentials", Message: "Invalid email or password."})
	}

	sess, err := h.sessions.Get(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := sess.Regenerate(); err != nil {
		return writeError(c, err)
	}
	sess.Set(session.KeyUserID, user.ID)
	sess.Set(session.KeyUserName, user.Name)
	sess.Set(session.KeyIsAdmin, user.Role == models.ROLE_ADMIN)
	if err := sess.Save(); err != nil {
		return writeError(c, err)
	}

	if err := h.db.WithContext(ctx).Model(&user).Update("last_login_at", time.Now()).Error; err != nil {
		log.Warnf("[Auth] Could not record login of user %d: %v", user.ID, err)
	}
	return c.JSON(fiber.Map{"userId": user.ID, "name": user.Name})
}

func (h *Controller) HandleAuthLogout(c *fiber.Ctx) error {
	sess, err := h.sessions.Get(c)
	if err != nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := sess.Destroy(); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
