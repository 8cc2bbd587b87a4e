package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	// GuestOrderIDs are the orders placed by guest checkout in this browser
	// session. Only these orders are open to the session without a login.
	GuestOrderIDs []uint `json:"guest_order_ids,omitempty"`
}

// HasGuestOrder reports whether orderID was placed by guest checkout in this session.
func (u UserContext) HasGuestOrder(orderID uint) bool {
	for _, id := range u.GuestOrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// IsAnonymous reports whether the request has neither a login nor guest orders.
func (u UserContext) IsAnonymous() bool {
	return !u.IsLoggedIn && len(u.GuestOrderIDs) == 0
}

// CanAccessOrder reports whether the request may view or pay the order.
// Logged-in users reach their own orders; guests reach only the orders they
// placed in this session, even when the order belongs to an existing account.
func (u UserContext) CanAccessOrder(orderID uint, ownerID *uint) bool {
	if ownerID == nil || *ownerID == 0 {
		return false
	}
	if u.IsLoggedIn && u.UserID == *ownerID {
		return true
	}
	return u.HasGuestOrder(orderID)
}

// Set stores the user context for the request.
func Set(c *fiber.Ctx, u UserContext) {
	c.Locals(KeyUserContext, u)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
