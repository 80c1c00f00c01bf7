package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func NewStore(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Allow counts one hit against key in a fixed window and reports whether the
// count is still within limit. The window starts at the first hit.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := "ratelimit:" + key

	n, err := s.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, k, window).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	} else if ttl, err := s.rdb.TTL(ctx, k).Result(); err == nil && ttl < 0 {
		// counter survived without an expiry (crash between INCR and EXPIRE)
		_ = s.rdb.Expire(ctx, k, window).Err()
	}
	return n <= int64(limit), nil
}
