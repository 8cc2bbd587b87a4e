package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/nurseshelf/nurseshelf/internal/pkg/config"
)

// DB 0 holds counters and the rate limiter, DB 1 the web sessions.
const (
	DataDB    = 0
	SessionDB = 1
)

// New connects to the Redis compatible cache. An unreachable server is logged
// and not fatal; callers degrade until it comes back.
func New(ctx context.Context, cfg config.Cache) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       DataDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s: %v", client.Options().Addr, err)
	} else {
		log.Infof("[Cache] Connected to cache: %s", pong)
	}
	return client
}
