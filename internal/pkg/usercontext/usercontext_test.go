package usercontext

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanAccessOrder(t *testing.T) {
	owner := func(id uint) *uint { return &id }

	tests := []struct {
		name    string
		ctx     UserContext
		orderID uint
		ownerID *uint
		want    bool
	}{
		{name: "own order", ctx: UserContext{UserID: 4, IsLoggedIn: true}, orderID: 1, ownerID: owner(4), want: true},
		{name: "someone else's order", ctx: UserContext{UserID: 4, IsLoggedIn: true}, orderID: 1, ownerID: owner(9), want: false},
		{name: "guest order of this session", ctx: UserContext{GuestOrderIDs: []uint{7}}, orderID: 7, ownerID: owner(9), want: true},
		{name: "other order of the same account", ctx: UserContext{GuestOrderIDs: []uint{7}}, orderID: 1, ownerID: owner(9), want: false},
		{name: "order without owner", ctx: UserContext{GuestOrderIDs: []uint{7}}, orderID: 7, ownerID: nil, want: false},
		{name: "anonymous", ctx: UserContext{}, orderID: 7, ownerID: owner(9), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.CanAccessOrder(tt.orderID, tt.ownerID))
		})
	}

	assert.True(t, UserContext{}.IsAnonymous())
	assert.False(t, UserContext{GuestOrderIDs: []uint{7}}.IsAnonymous())
	assert.False(t, UserContext{UserID: 4, IsLoggedIn: true}.IsAnonymous())
}

func TestGetUserContext(t *testing.T) {
	app := fiber.New()
	app.Get("/anon", func(c *fiber.Ctx) error {
		assert.False(t, IsLoggedIn(c))
		assert.Equal(t, uint(0), GetUserID(c))
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/user", func(c *fiber.Ctx) error {
		Set(c, UserContext{UserID: 3, Username: "nurse.kim", IsLoggedIn: true})
		assert.True(t, IsLoggedIn(c))
		assert.Equal(t, uint(3), GetUserID(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	for _, path := range []string{"/anon", "/user"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	}
}
