package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-lot-allocation/internal/parking"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, 2*time.Second, "test-lock"), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)

	release, err := l.Acquire(ctx, "CAR-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test-lock:CAR-1"))

	_, err = l.Acquire(ctx, "CAR-1")
	assert.ErrorIs(t, err, parking.ErrVehicleBusy)

	other, err := l.Acquire(ctx, "CAR-2")
	require.NoError(t, err)
	other()

	release()
	assert.False(t, mr.Exists("test-lock:CAR-1"))

	again, err := l.Acquire(ctx, "CAR-1")
	require.NoError(t, err)
	again()
}

func TestLockExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)

	release, err := l.Acquire(ctx, "CAR-1")
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	next, err := l.Acquire(ctx, "CAR-1")
	require.NoError(t, err)

	// The stale holder must not drop the new holder's lock.
	release()
	assert.True(t, mr.Exists("test-lock:CAR-1"))
	next()
	assert.False(t, mr.Exists("test-lock:CAR-1"))
}

func TestAllocatorWithRedisLocker(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLocker(t)

	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateLot(ctx, "LOT-1", 2))
	a := parking.NewAllocator(store, parking.WithLocker(l))

	held, err := l.Acquire(ctx, "CAR-1")
	require.NoError(t, err)
	_, err = a.PlaceVehicle(ctx, parking.PlaceRequest{VehicleID: "CAR-1", LotIDs: []string{"LOT-1"}})
	assert.ErrorIs(t, err, parking.ErrVehicleBusy)
	held()

	p, err := a.PlaceVehicle(ctx, parking.PlaceRequest{VehicleID: "CAR-1", LotIDs: []string{"LOT-1"}})
	require.NoError(t, err)
	assert.Equal(t, "LOT-1", p.LotID)

	_, err = a.ReleaseVehicle(ctx, "CAR-1")
	require.NoError(t, err)
}
