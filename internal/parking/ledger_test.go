package parking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

func newTestLedger(s Store) *Ledger {
	return NewLedger(s, NewHistoryLog(s), fixedClock())
}

func TestLedgerParkFillsLot(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	l := newTestLedger(s)

	lot, err := s.FindLotByID(ctx, "LOT-1")
	require.NoError(t, err)

	occ, tr, err := l.Park(ctx, lot, "CAR-1")
	require.NoError(t, err)
	assert.Equal(t, "CAR-1", occ.VehicleID)
	assert.Equal(t, TransitionNone, tr)
	assert.Equal(t, 1, AvailableCapacity(lot))

	_, tr, err = l.Park(ctx, lot, "CAR-2")
	require.NoError(t, err)
	assert.Equal(t, TransitionBecameFull, tr)
	assert.True(t, lot.IsFull)

	_, _, err = l.Park(ctx, lot, "CAR-3")
	assert.ErrorIs(t, err, ErrLotFull)

	stored, _ := s.FindLotByID(ctx, "LOT-1")
	assert.Len(t, stored.Occupants, 2)
	assertLotInvariants(t, s)
}

func TestLedgerParkRejectsVehicleParkedElsewhere(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	l := newTestLedger(s)

	lot1, _ := s.FindLotByID(ctx, "LOT-1")
	_, _, err := l.Park(ctx, lot1, "CAR-1")
	require.NoError(t, err)

	lot2, _ := s.FindLotByID(ctx, "LOT-2")
	_, _, err = l.Park(ctx, lot2, "CAR-1")
	assert.ErrorIs(t, err, ErrAlreadyParked)
	assertLotInvariants(t, s)
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	l := newTestLedger(s)

	lot, _ := s.FindLotByID(ctx, "LOT-1")
	_, _, err := l.Park(ctx, lot, "CAR-0")
	require.NoError(t, err)
	before := AvailableCapacity(lot)

	_, _, err = l.Park(ctx, lot, "CAR-1")
	require.NoError(t, err)
	require.True(t, lot.IsFull)

	occ, after, tr, err := l.Unpark(ctx, "CAR-1")
	require.NoError(t, err)
	assert.Equal(t, "CAR-1", occ.VehicleID)
	assert.Equal(t, before, AvailableCapacity(after))
	assert.False(t, after.IsFull)
	assert.Equal(t, TransitionBecameAvailable, tr)
	assertLotInvariants(t, s)

	_, _, tr, err = l.Unpark(ctx, "CAR-0")
	require.NoError(t, err)
	assert.Equal(t, TransitionNone, tr)
}

func TestLedgerUnparkUnknownVehicle(t *testing.T) {
	l := newTestLedger(hierarchyStore(t))

	_, _, _, err := l.Unpark(context.Background(), "NEVER-PARKED")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerWritesOneHistoryEntryPerOperation(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	l := newTestLedger(s)

	lot, _ := s.FindLotByID(ctx, "LOT-2")
	_, _, err := l.Park(ctx, lot, "CAR-1")
	require.NoError(t, err)
	_, _, _, err = l.Unpark(ctx, "CAR-1")
	require.NoError(t, err)

	entries, err := s.FindHistoryEntries(ctx, repository.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.ActionUnpark, entries[0].Action)
	assert.Equal(t, model.ActionPark, entries[1].Action)
	assert.Equal(t, "LOT-2", entries[0].LotID)
}

func TestLedgerPropagatesPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{MemoryStore: hierarchyStore(t), failSave: true}
	l := newTestLedger(s)

	lot, _ := s.FindLotByID(ctx, "LOT-1")
	_, _, err := l.Park(ctx, lot, "CAR-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDBDown))
	assert.Empty(t, lot.Occupants, "caller's lot is unchanged on failure")

	history, _ := s.FindHistoryEntries(ctx, repository.HistoryFilter{})
	assert.Empty(t, history)
}

func TestLedgerStaleLotConflicts(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	l := newTestLedger(s)

	stale, _ := s.FindLotByID(ctx, "LOT-1")
	fresh, _ := s.FindLotByID(ctx, "LOT-1")

	_, _, err := l.Park(ctx, fresh, "CAR-1")
	require.NoError(t, err)

	_, _, err = l.Park(ctx, stale, "CAR-2")
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assertLotInvariants(t, s)
}

func TestLedgerRejectsEmptyVehicleID(t *testing.T) {
	ctx := context.Background()
	s := hierarchyStore(t)
	l := newTestLedger(s)
	lot, _ := s.FindLotByID(ctx, "LOT-1")

	_, _, err := l.Park(ctx, lot, "  ")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLedgerParkKeepsVehicleWhenHistoryFails(t *testing.T) {
	ctx := context.Background()
	s := &faultyStore{MemoryStore: hierarchyStore(t), failHistory: true}
	l := newTestLedger(s)

	lot, _ := s.FindLotByID(ctx, "LOT-1")
	_, _, err := l.Park(ctx, lot, "CAR-1")
	require.ErrorIs(t, err, errDBDown)

	stored, err := s.FindLotByOccupant(ctx, "CAR-1")
	require.NoError(t, err)
	assert.Equal(t, "LOT-1", stored.ID)

	entries, err := s.MemoryStore.FindHistoryEntries(ctx, repository.HistoryFilter{VehicleID: "CAR-1"})
	require.NoError(t, err)
	assert.Empty(t, entries)

	s.failHistory = false
	lot2, _ := s.FindLotByID(ctx, "LOT-2")
	_, _, err = l.Park(ctx, lot2, "CAR-1")
	assert.ErrorIs(t, err, ErrAlreadyParked)
	assertLotInvariants(t, s)
}
