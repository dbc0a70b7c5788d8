package parking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

func TestPlaceViaCoordinatorFallsBackToNextAttendant(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	a := NewAllocator(s, WithClock(fixedClock()))

	for _, v := range []string{"CAR-1", "CAR-2"} {
		p, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: v, LotIDs: []string{"LOT-1"}})
		require.NoError(t, err)
		require.Equal(t, "LOT-1", p.LotID)
	}

	p, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-3", CoordinatorID: "COORD-1"})
	require.NoError(t, err)
	assert.Equal(t, "LOT-2", p.LotID)
	assert.Equal(t, "ATT-2", p.AttendantID)
	assert.Equal(t, "CAR-3", p.VehicleID)
	assertLotInvariants(t, s)
}

func TestPlaceViaCoordinatorPrefersFirstAttendant(t *testing.T) {
	a := NewAllocator(hierarchyStore(t))

	p, err := a.PlaceVehicle(context.Background(), PlaceRequest{VehicleID: "CAR-1", CoordinatorID: "COORD-1"})
	require.NoError(t, err)
	assert.Equal(t, "LOT-1", p.LotID)
	assert.Equal(t, "ATT-1", p.AttendantID)
}

func TestPlaceViaCoordinatorExhausted(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	require.NoError(t, s.CreateLot(ctx, "LOT-1", 1))
	require.NoError(t, s.CreateAttendant(ctx, model.Attendant{ID: "ATT-1", LotIDs: []string{"LOT-1"}}))
	require.NoError(t, s.CreateCoordinator(ctx, model.Coordinator{ID: "COORD-1", AttendantIDs: []string{"ATT-1", "ATT-1", "ATT-GONE"}}))
	a := NewAllocator(s)

	_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", CoordinatorID: "COORD-1"})
	require.NoError(t, err)

	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-2", CoordinatorID: "COORD-1"})
	assert.ErrorIs(t, err, ErrNoAvailableAttendant)
}

func TestPlaceViaCoordinatorPropagatesPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{MemoryStore: hierarchyStore(t), failAttendant: "ATT-1"}
	a := NewAllocator(s)

	_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", CoordinatorID: "COORD-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDBDown)

	lot2, _ := s.FindLotByID(ctx, "LOT-2")
	assert.Empty(t, lot2.Occupants, "remaining attendants are not tried")
}

func TestPlaceUnknownTargets(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(hierarchyStore(t))

	_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", CoordinatorID: "COORD-9"})
	assert.ErrorIs(t, err, ErrCoordinatorNotFound)

	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", AttendantID: "ATT-9"})
	assert.ErrorIs(t, err, ErrAttendantNotFound)

	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", LotIDs: []string{"LOT-9"}})
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestPlaceSameVehicleTwiceThroughEveryEntryPoint(t *testing.T) {
	requests := map[string]PlaceRequest{
		"coordinator": {VehicleID: "CAR-1", CoordinatorID: "COORD-1"},
		"attendant":   {VehicleID: "CAR-1", AttendantID: "ATT-2"},
		"lots":        {VehicleID: "CAR-1", LotIDs: []string{"LOT-1", "LOT-2"}},
		"fleet":       {VehicleID: "CAR-1"},
	}
	for firstName, first := range requests {
		for secondName, second := range requests {
			t.Run(fmt.Sprintf("%s then %s", firstName, secondName), func(t *testing.T) {
				ctx := context.Background()
				s := hierarchyStore(t)
				a := NewAllocator(s)

				_, err := a.PlaceVehicle(ctx, first)
				require.NoError(t, err)

				_, err = a.PlaceVehicle(ctx, second)
				assert.ErrorIs(t, err, ErrAlreadyParked)
				assertLotInvariants(t, s)
			})
		}
	}
}

func TestPlaceDuplicateFailsFastEvenWhenCoordinatorIsFull(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	require.NoError(t, s.CreateLot(ctx, "LOT-1", 1))
	require.NoError(t, s.CreateAttendant(ctx, model.Attendant{ID: "ATT-1", LotIDs: []string{"LOT-1"}}))
	require.NoError(t, s.CreateCoordinator(ctx, model.Coordinator{ID: "COORD-1", AttendantIDs: []string{"ATT-1"}}))
	a := NewAllocator(s)

	_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", CoordinatorID: "COORD-1"})
	require.NoError(t, err)

	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", CoordinatorID: "COORD-1"})
	assert.ErrorIs(t, err, ErrAlreadyParked)
}

func TestPlaceInLotsUsesStrategyAndIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	require.NoError(t, s.CreateLot(ctx, "LOT-A", 5))
	require.NoError(t, s.CreateLot(ctx, "LOT-B", 5))
	a := NewAllocator(s)

	_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", LotIDs: []string{"LOT-A"}})
	require.NoError(t, err)

	p, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-2", Strategy: model.LeastAvailable, LotIDs: []string{"LOT-B", "LOT-A", "LOT-B"}})
	require.NoError(t, err)
	assert.Equal(t, "LOT-A", p.LotID)
	assert.Empty(t, p.AttendantID)

	p, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-3", Strategy: model.MostAvailable, LotIDs: []string{"LOT-A", "LOT-B"}})
	require.NoError(t, err)
	assert.Equal(t, "LOT-B", p.LotID)
}

func TestPlaceWithoutTargetUsesWholeFleet(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(hierarchyStore(t))

	p, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", Strategy: model.MostAvailable})
	require.NoError(t, err)
	assert.Equal(t, "LOT-2", p.LotID)
}

func TestPlaceValidation(t *testing.T) {
	a := NewAllocator(hierarchyStore(t))
	tests := map[string]PlaceRequest{
		"missing vehicle": {CoordinatorID: "COORD-1"},
		"two targets":     {VehicleID: "CAR-1", CoordinatorID: "COORD-1", AttendantID: "ATT-1"},
		"bad strategy":    {VehicleID: "CAR-1", Strategy: "CHEAPEST"},
		"empty lot id":    {VehicleID: "CAR-1", LotIDs: []string{""}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.PlaceVehicle(context.Background(), req)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestReleaseVehicle(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	a := NewAllocator(s, WithClock(fixedClock()))

	placed, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", AttendantID: "ATT-1"})
	require.NoError(t, err)

	r, err := a.ReleaseVehicle(ctx, "CAR-1")
	require.NoError(t, err)
	assert.Equal(t, "LOT-1", r.LotID)
	assert.Equal(t, placed.ParkedAt, r.ParkedAt)
	assert.True(t, r.ReleasedAt.After(r.ParkedAt))

	_, err = a.ReleaseVehicle(ctx, "CAR-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = a.ReleaseVehicle(ctx, "NEVER-PARKED")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFleetStatus(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(hierarchyStore(t))

	for _, v := range []string{"CAR-1", "CAR-2"} {
		_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: v, AttendantID: "ATT-1"})
		require.NoError(t, err)
	}
	_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-3", AttendantID: "ATT-2"})
	require.NoError(t, err)

	st, err := a.FleetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []LotStatus{
		{LotID: "LOT-1", Capacity: 2, AvailableCapacity: 0, IsFull: true, OccupiedCount: 2},
		{LotID: "LOT-2", Capacity: 5, AvailableCapacity: 4, IsFull: false, OccupiedCount: 1},
	}, st)
}

func TestHistoryIsNewestFirstAndIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(hierarchyStore(t), WithClock(fixedClock()))

	_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1", AttendantID: "ATT-1"})
	require.NoError(t, err)
	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-2", AttendantID: "ATT-2"})
	require.NoError(t, err)
	_, err = a.ReleaseVehicle(ctx, "CAR-1")
	require.NoError(t, err)

	first, err := a.History(ctx, repository.HistoryFilter{})
	require.NoError(t, err)
	second, err := a.History(ctx, repository.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 3)
	assert.Equal(t, model.ActionUnpark, first[0].Action)
	assert.Equal(t, "CAR-2", first[1].VehicleID)
	assert.Equal(t, "CAR-1", first[2].VehicleID)

	car1, err := a.History(ctx, repository.HistoryFilter{VehicleID: "CAR-1"})
	require.NoError(t, err)
	require.Len(t, car1, 2)
	assert.Equal(t, model.ActionUnpark, car1[0].Action)

	byLot, err := a.History(ctx, repository.HistoryFilter{LotID: "LOT-2"})
	require.NoError(t, err)
	require.Len(t, byLot, 1)

	none, err := a.History(ctx, repository.HistoryFilter{VehicleID: "NOBODY"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestEventsDispatchedOnTransitions(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("broker down") })
	a := NewAllocator(hierarchyStore(t), WithSinks(failing, sink))

	for _, v := range []string{"CAR-1", "CAR-2"} {
		_, err := a.PlaceVehicle(ctx, PlaceRequest{VehicleID: v, AttendantID: "ATT-1"})
		require.NoError(t, err)
	}
	_, err := a.ReleaseVehicle(ctx, "CAR-1")
	require.NoError(t, err)
	_, err = a.ReleaseVehicle(ctx, "CAR-2")
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventParked,
		EventParked, EventLotFull,
		EventUnparked, EventLotAvailable,
		EventUnparked,
	}, sink.types())
	assert.Equal(t, "ATT-1", sink.events[0].AttendantID)
	assert.Equal(t, "LOT-1", sink.events[2].LotID)
}

// interleavingStore runs beforeSave once, just before the next SaveLot.
type interleavingStore struct {
	*repository.MemoryStore
	beforeSave func()
}

func (s *interleavingStore) SaveLot(ctx context.Context, lot *model.Lot) error {
	if f := s.beforeSave; f != nil {
		s.beforeSave = nil
		f()
	}
	return s.MemoryStore.SaveLot(ctx, lot)
}

func TestCrossLotDuplicateIsAKnownRaceWithoutLocker(t *testing.T) {
	ctx := context.Background()
	inner := hierarchyStore(t)
	s := &interleavingStore{MemoryStore: inner}
	l := newTestLedger(s)
	other := newTestLedger(inner)

	// A second request parks the same vehicle in LOT-1 after the first
	// one passed its duplicate check but before it saved LOT-2.
	s.beforeSave = func() {
		lot1, _ := inner.FindLotByID(ctx, "LOT-1")
		_, _, err := other.Park(ctx, lot1, "CAR-1")
		require.NoError(t, err)
	}

	lot2, _ := s.FindLotByID(ctx, "LOT-2")
	_, _, err := l.Park(ctx, lot2, "CAR-1")
	require.NoError(t, err)

	holders := 0
	lots, _ := inner.FindAllLots(ctx)
	for _, lot := range lots {
		if lot.Holds("CAR-1") {
			holders++
		}
	}
	assert.Equal(t, 2, holders, "per-lot atomicity does not cover the cross-lot check")
}

// memLocker is an in-process VehicleLocker.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocker) Acquire(_ context.Context, vehicleID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[vehicleID] {
		return nil, ErrVehicleBusy
	}
	m.held[vehicleID] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, vehicleID)
	}, nil
}

func TestLockerRejectsConcurrentRequestsForSameVehicle(t *testing.T) {
	ctx := context.Background()
	locker := &memLocker{held: map[string]bool{}}
	a := NewAllocator(hierarchyStore(t), WithLocker(locker))

	release, err := locker.Acquire(ctx, "CAR-1")
	require.NoError(t, err)

	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1"})
	assert.ErrorIs(t, err, ErrVehicleBusy)
	_, err = a.ReleaseVehicle(ctx, "CAR-1")
	assert.ErrorIs(t, err, ErrVehicleBusy)

	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-2"})
	require.NoError(t, err, "other vehicles are not blocked")

	release()
	_, err = a.PlaceVehicle(ctx, PlaceRequest{VehicleID: "CAR-1"})
	require.NoError(t, err)
	assert.Empty(t, locker.held, "lock is released after the request")
}
