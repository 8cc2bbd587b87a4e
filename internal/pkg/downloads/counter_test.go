package downloads

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurseshelf/nurseshelf/app/models"
)

// hashStore keeps Redis hashes in memory for the commands Counter uses.
type hashStore struct {
	redis.Cmdable

	mu     sync.Mutex
	hashes map[string]map[string]string
}

func newHashStore() *hashStore {
	return &hashStore{hashes: map[string]map[string]string{}}
}

func (s *hashStore) Rename(_ context.Context, key, newkey string) *redis.StatusCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return redis.NewStatusResult("", errors.New("ERR no such key"))
	}
	delete(s.hashes, key)
	s.hashes[newkey] = h
	return redis.NewStatusResult("OK", nil)
}

func (s *hashStore) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (s *hashStore) HIncrBy(_ context.Context, key, field string, incr int64) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = map[string]string{}
		s.hashes[key] = h
	}
	n, _ := strconv.ParseInt(h[field], 10, 64)
	n += incr
	h[field] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (s *hashStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := s.hashes[k]; ok {
			delete(s.hashes, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (s *hashStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hashes))
	for k := range s.hashes {
		out = append(out, k)
	}
	return out
}

func TestCounterFlush(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		breakDB  bool
		wantErr  bool
		wantDB   int64
		wantLive string
	}{
		{name: "applied", wantDB: 3},
		{name: "update fails", breakDB: true, wantErr: true, wantLive: "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newDownloadFixture(t)
			store := newHashStore()
			c := &Counter{rdb: store, db: fx.db}

			for i := 0; i < 3; i++ {
				require.NoError(t, c.Add(ctx, fx.product.ID))
			}
			if tt.breakDB {
				require.NoError(t, fx.db.Migrator().DropTable(&models.Product{}))
			}

			err := c.Flush(ctx)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				var p models.Product
				require.NoError(t, fx.db.First(&p, fx.product.ID).Error)
				assert.Equal(t, tt.wantDB, p.DownloadCount)
			}

			field := strconv.FormatUint(uint64(fx.product.ID), 10)
			live := store.HGetAll(ctx, productDownloadsKey).Val()
			if tt.wantLive == "" {
				assert.Empty(t, live)
			} else {
				assert.Equal(t, tt.wantLive, live[field], "counts survive a failed flush")
			}
			for _, k := range store.keys() {
				assert.NotContains(t, k, ":tmp:", "temporary hash left behind")
			}
		})
	}
}

func TestCounterFlush_MergesWithNewIncrements(t *testing.T) {
	ctx := context.Background()
	fx := newDownloadFixture(t)
	store := newHashStore()
	c := &Counter{rdb: store, db: fx.db}

	require.NoError(t, c.Add(ctx, fx.product.ID))
	require.NoError(t, fx.db.Migrator().DropTable(&models.Product{}))
	require.Error(t, c.Flush(ctx))

	require.NoError(t, c.Add(ctx, fx.product.ID))
	field := strconv.FormatUint(uint64(fx.product.ID), 10)
	assert.Equal(t, "2", store.HGetAll(ctx, productDownloadsKey).Val()[field])
}

func TestCounterWithoutRedis(t *testing.T) {
	c := NewCounter(nil, nil)
	assert.NoError(t, c.Add(context.Background(), 1))
	assert.NoError(t, c.Flush(context.Background()))

	// nothing to flush, returns as soon as it starts
	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run without Redis should return")
	}
}

func TestCounterRunZeroInterval(t *testing.T) {
	fx := newDownloadFixture(t)
	c := &Counter{rdb: newHashStore(), db: fx.db}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 0)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
