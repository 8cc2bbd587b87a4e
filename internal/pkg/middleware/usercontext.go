package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	fsession "github.com/gofiber/fiber/v2/middleware/session"

	"github.com/nurseshelf/nurseshelf/internal/pkg/session"
	"github.com/nurseshelf/nurseshelf/internal/pkg/usercontext"
)

// UserContextMiddleware loads the session user into the request's UserContext.
// Requests without a readable session continue as anonymous.
func UserContextMiddleware(store *fsession.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			log.Warnf("[Session] Could not load session: %v", err)
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		u := usercontext.UserContext{GuestOrderIDs: session.GuestOrderIDs(sess)}
		if userID, ok := sess.Get(session.KeyUserID).(uint); ok && userID != 0 {
			u.UserID = userID
			u.IsLoggedIn = true
			u.Username, _ = sess.Get(session.KeyUserName).(string)
			u.IsAdmin, _ = sess.Get(session.KeyIsAdmin).(bool)
		}
		usercontext.Set(c, u)
		return c.Next()
	}
}
