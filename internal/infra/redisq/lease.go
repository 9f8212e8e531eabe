package redisq

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"omnipost/internal/ports"
)

var _ ports.Lease = (*Lease)(nil)

// Lease is a SET NX PX lock. The value identifies this process so Release
// never deletes a lease another holder took over after expiry.
type Lease struct {
	C     *Client
	owner string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func NewLease(c *Client) *Lease {
	host, _ := os.Hostname()
	return &Lease{C: c, owner: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())}
}

func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.C.Rdb.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		log.Ctx(ctx).Debug().Str("key", key).Msg("lease held elsewhere")
	}
	return ok, nil
}

func (l *Lease) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.C.Rdb, []string{key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
