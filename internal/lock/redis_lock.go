// Package lock provides a single-writer serialization point per vehicle
// id backed by Redis.  It closes the window between the allocator's
// "already parked anywhere" check and the lot commit, which per-lot
// atomicity alone does not cover.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-lot-allocation/internal/logging"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
)

// releaseScript deletes the key only when it still holds our token, so an
// expired lock re-acquired by another request is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLocker implements parking.VehicleLocker with SET NX PX.
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLocker returns a locker whose locks expire after ttl if the
// holder never releases them.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration, prefix string) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if prefix == "" {
		prefix = "vehicle-lock"
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, prefix: prefix}
}

var _ parking.VehicleLocker = (*RedisLocker)(nil)

func (l *RedisLocker) key(vehicleID string) string {
	return l.prefix + ":" + vehicleID
}

// Acquire takes the lock for vehicleID or fails with
// parking.ErrVehicleBusy.  The returned release func is safe to call once.
func (l *RedisLocker) Acquire(ctx context.Context, vehicleID string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	key := l.key(vehicleID)
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, parking.ErrVehicleBusy
	}
	return func() {
		// The request context may already be cancelled; release on a
		// short background deadline instead.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil {
			logging.Warn(ctx).Err(err).Str("key", key).Msg("release vehicle lock")
		}
	}, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
