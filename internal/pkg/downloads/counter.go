package downloads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	productDownloadsKey  = "product:counters:downloads"
	defaultFlushInterval = time.Minute
)

// Counter buffers per-product download counts in a Redis hash and flushes
// them to products.download_count in one batched UPDATE.
type Counter struct {
	rdb redis.Cmdable
	db  *gorm.DB
}

func NewCounter(rdb *redis.Client, db *gorm.DB) *Counter {
	c := &Counter{db: db}
	if rdb != nil {
		c.rdb = rdb
	}
	return c
}

// Add increments the pending count for a product.
func (c *Counter) Add(ctx context.Context, productID uint) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	field := strconv.FormatUint(uint64(productID), 10)
	return c.rdb.HIncrBy(ctx, productDownloadsKey, field, 1).Err()
}

// Flush drains the hash and applies the increments. The hash is renamed to a
// temporary key first so increments arriving during the flush are kept. When
// the UPDATE fails the drained counts are merged back into the live hash.
func (c *Counter) Flush(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}

	tmpKey := fmt.Sprintf("%s:tmp:%d", productDownloadsKey, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, productDownloadsKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return c.restore(ctx, tmpKey, nil, err)
	}
	sql, args := incrementSQL("products", "download_count", data)
	if sql != "" {
		if err := c.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return c.restore(ctx, tmpKey, data, err)
		}
	}
	return c.rdb.Del(ctx, tmpKey).Err()
}

// restore merges the drained counts back into the live hash and drops tmpKey.
// Without data the temporary hash is kept so the counts can be recovered by hand.
func (c *Counter) restore(ctx context.Context, tmpKey string, data map[string]string, cause error) error {
	if data == nil {
		log.Errorf("[Downloads] Counts left in %s after failed flush: %v", tmpKey, cause)
		return cause
	}
	for field, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		if err := c.rdb.HIncrBy(ctx, productDownloadsKey, field, n).Err(); err != nil {
			log.Errorf("[Downloads] Counts left in %s, merge back failed: %v", tmpKey, err)
			return errors.Join(cause, err)
		}
	}
	if err := c.rdb.Del(ctx, tmpKey).Err(); err != nil {
		log.Warnf("[Downloads] Could not remove %s: %v", tmpKey, err)
	}
	return cause
}

// Run flushes every interval until ctx is cancelled, then flushes once more.
func (c *Counter) Run(ctx context.Context, interval time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("[Downloads] Counter flush started (interval: %s)", interval)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(flushCtx); err != nil {
				log.Errorf("[Downloads] Final counter flush failed: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				log.Errorf("[Downloads] Counter flush failed: %v", err)
			}
		}
	}
}

// incrementSQL builds
// UPDATE <table> SET <col> = <col> + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
// from a hash of id -> increment. Unparseable and zero entries are skipped.
func incrementSQL(table, column string, data map[string]string) (string, []interface{}) {
	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		inc, err := strconv.ParseInt(v, 10, 64)
		if err != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return "", nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	var b strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	b.WriteString("UPDATE " + table + " SET " + column + " = " + column + " + CASE id")
	for _, p := range pairs {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	b.WriteString(" ELSE 0 END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		args = append(args, p.id)
	}
	b.WriteString(")")
	return b.String(), args
}
