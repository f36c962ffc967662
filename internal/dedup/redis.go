package dedup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

// RedisDeduplicator claims dedup keys with SET NX under a TTL, which makes
// the first-trigger-wins decision atomic across orchestrator instances.
type RedisDeduplicator struct {
	log    *logger.Logger
	rdb    *goredis.Client
	window time.Duration
}

func NewRedisDeduplicator(log *logger.Logger, window time.Duration) (*RedisDeduplicator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisDeduplicator{
		log:    log.With("service", "RedisDeduplicator"),
		rdb:    rdb,
		window: window,
	}, nil
}

func (d *RedisDeduplicator) Accept(ctx context.Context, sourceRef string, version int) error {
	key := Key(sourceRef, version)
	ok, err := d.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), d.window).Result()
	if err != nil {
		return fmt.Errorf("dedup setnx: %w", err)
	}
	if !ok {
		d.log.Debug("Trigger suppressed as duplicate", "key", key)
		return ErrSuppressed
	}
	return nil
}

func (d *RedisDeduplicator) Close() error {
	return d.rdb.Close()
}
