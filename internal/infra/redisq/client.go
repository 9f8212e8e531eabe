// Package redisq holds the optional Redis connection. Its only user is the
// revalidation scheduler, which takes a Lease so that a single process sweeps
// at a time. Nothing else is stored in Redis.
package redisq

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"omnipost/internal/config"
)

// Client backs the sweep Lease; see NewLease.
type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) *Client {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

// Connect pings the server. The app calls it with retries at startup and
// drops the lease when it keeps failing.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("sweep lease store %s unreachable: %w", c.Cfg.Addr, err)
	}
	log.Ctx(ctx).Info().Str("lease_key", c.Cfg.LeaseKey).Msgf("sweep lease backed by redis at %s", c.Cfg.Addr)
	return nil
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}
