package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
)

func TestMemoryStoreCreateLotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateLot(ctx, "LOT-1", 2))
	require.NoError(t, s.CreateLot(ctx, "LOT-1", 9))

	lot, err := s.FindLotByID(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, 2, lot.Capacity)
	assert.Empty(t, lot.Occupants)

	assert.ErrorIs(t, s.CreateLot(ctx, "LOT-0", 0), ErrInvalidCapacity)
}

func TestMemoryStoreFindLotsByIDsKeepsInputOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, s.CreateLot(ctx, id, 1))
	}

	lots, err := s.FindLotsByIDs(ctx, []string{"C", "missing", "A"})
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, "C", lots[0].ID)
	assert.Equal(t, "A", lots[1].ID)

	all, err := s.FindAllLots(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, l := range all {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)
}

func TestMemoryStoreSaveLotMaintainsOccupantIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateLot(ctx, "LOT-1", 2))

	lot, err := s.FindLotByID(ctx, "LOT-1")
	require.NoError(t, err)
	lot.Occupants = append(lot.Occupants, model.Occupant{VehicleID: "CAR-1", ParkedAt: time.Now()})
	require.NoError(t, s.SaveLot(ctx, lot))
	assert.Equal(t, uint64(1), lot.Version)

	found, err := s.FindLotByOccupant(ctx, "CAR-1")
	require.NoError(t, err)
	assert.Equal(t, "LOT-1", found.ID)

	found.Occupants = nil
	require.NoError(t, s.SaveLot(ctx, found))

	_, err = s.FindLotByOccupant(ctx, "CAR-1")
	assert.ErrorIs(t, err, ErrLotNotFound)
}

func TestMemoryStoreSaveLotRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateLot(ctx, "LOT-1", 2))

	first, _ := s.FindLotByID(ctx, "LOT-1")
	second, _ := s.FindLotByID(ctx, "LOT-1")

	first.Occupants = append(first.Occupants, model.Occupant{VehicleID: "CAR-1"})
	require.NoError(t, s.SaveLot(ctx, first))

	second.Occupants = append(second.Occupants, model.Occupant{VehicleID: "CAR-2"})
	assert.ErrorIs(t, s.SaveLot(ctx, second), ErrVersionConflict)

	stored, _ := s.FindLotByID(ctx, "LOT-1")
	require.Len(t, stored.Occupants, 1)
	assert.Equal(t, "CAR-1", stored.Occupants[0].VehicleID)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAttendant(ctx, model.Attendant{ID: "ATT-1", LotIDs: []string{"LOT-1"}}))

	a, err := s.FindAttendantByID(ctx, "ATT-1")
	require.NoError(t, err)
	a.LotIDs[0] = "changed"

	again, _ := s.FindAttendantByID(ctx, "ATT-1")
	assert.Equal(t, []string{"LOT-1"}, again.LotIDs)

	_, err = s.FindAttendantByID(ctx, "ATT-9")
	assert.ErrorIs(t, err, ErrAttendantNotFound)
	_, err = s.FindCoordinatorByID(ctx, "COORD-9")
	assert.ErrorIs(t, err, ErrCoordinatorNotFound)
}

func TestMemoryStoreHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	entries := []model.HistoryEntry{
		{VehicleID: "CAR-1", LotID: "LOT-1", Action: model.ActionPark, CreatedAt: t0},
		{VehicleID: "CAR-2", LotID: "LOT-2", Action: model.ActionPark, CreatedAt: t0},
		{VehicleID: "CAR-1", LotID: "LOT-1", Action: model.ActionUnpark, CreatedAt: t0.Add(time.Minute)},
	}
	for i := range entries {
		require.NoError(t, s.InsertHistoryEntry(ctx, &entries[i]))
	}
	assert.Equal(t, uint64(3), entries[2].ID)

	all, err := s.FindHistoryEntries(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].ID)
	assert.Equal(t, uint64(2), all[1].ID, "equal timestamps fall back to insertion order")
	assert.Equal(t, uint64(1), all[2].ID)

	car1, err := s.FindHistoryEntries(ctx, HistoryFilter{VehicleID: "CAR-1"})
	require.NoError(t, err)
	assert.Len(t, car1, 2)

	lot2, err := s.FindHistoryEntries(ctx, HistoryFilter{LotID: "LOT-2"})
	require.NoError(t, err)
	require.Len(t, lot2, 1)
	assert.Equal(t, "CAR-2", lot2[0].VehicleID)

	none, err := s.FindHistoryEntries(ctx, HistoryFilter{VehicleID: "CAR-1", LotID: "LOT-2"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
