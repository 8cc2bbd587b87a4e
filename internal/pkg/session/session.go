package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nurseshelf/nurseshelf/internal/pkg/cache"
)

// Keys stored in the web session.
const (
	KeyUserID   = "user_id"
	KeyUserName = "username"
	KeyIsAdmin  = "isAdmin"
	// KeyGuestOrderIDs lists the orders placed by guest checkout in this session.
	KeyGuestOrderIDs = "guest_order_ids"
)

const maxGuestOrders = 20

// NewRedisStorage creates fiber storage on the same server as client, using db.
func NewRedisStorage(client *goredis.Client, db int) *redis.Storage {
	host := "localhost"
	port := 6379
	password := ""
	if client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		password = client.Options().Password
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: db,
		Reset:    false,
	})
}

// NewSessionStore creates the cookie session store backed by Redis.
func NewSessionStore(client *goredis.Client, secure bool) *session.Store {
	return session.New(session.Config{
		Storage:        NewRedisStorage(client, cache.SessionDB),
		CookieHTTPOnly: true,
		CookieSecure:   secure,
		CookieSameSite: "Lax",
		Expiration:     12 * time.Hour,
		KeyLookup:      "cookie:session_id",
	})
}

// SetSessionValue stores a key-value pair in the user's individual session
func SetSessionValue(store *session.Store, c *fiber.Ctx, key string, value interface{}) error {
	if store == nil {
		return fmt.Errorf("session store not initialized")
	}

	sess, err := store.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}

	sess.Set(key, value)
	return sess.Save()
}

// AddGuestOrder remembers an order placed by guest checkout. Only the most
// recent orders are kept.
func AddGuestOrder(store *session.Store, c *fiber.Ctx, orderID uint) error {
	if store == nil {
		return fmt.Errorf("session store not initialized")
	}

	sess, err := store.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}

	ids := GuestOrderIDs(sess)
	ids = append(ids, orderID)
	if len(ids) > maxGuestOrders {
		ids = ids[len(ids)-maxGuestOrders:]
	}
	sess.Set(KeyGuestOrderIDs, ids)
	return sess.Save()
}

// GuestOrderIDs returns the guest orders stored in sess.
func GuestOrderIDs(sess *session.Session) []uint {
	ids, _ := sess.Get(KeyGuestOrderIDs).([]uint)
	return append([]uint(nil), ids...)
}

// GetSessionValue retrieves a string value by key from the user's individual session
func GetSessionValue(store *session.Store, c *fiber.Ctx, key string) string {
	if store == nil {
		return ""
	}

	sess, err := store.Get(c)
	if err != nil {
		return ""
	}

	if strValue, ok := sess.Get(key).(string); ok {
		return strValue
	}
	return ""
}
