package parking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

var errDBDown = errors.New("db down")

// fixedClock returns a clock that advances one second per call.
func fixedClock() func() time.Time {
	var (
		mu sync.Mutex
		t  = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// hierarchyStore provisions LOT-1=2, LOT-2=5, ATT-1→[LOT-1],
// ATT-2→[LOT-2], COORD-1→[ATT-1, ATT-2].
func hierarchyStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := repository.NewMemoryStore()
	require.NoError(t, s.CreateLot(ctx, "LOT-1", 2))
	require.NoError(t, s.CreateLot(ctx, "LOT-2", 5))
	require.NoError(t, s.CreateAttendant(ctx, model.Attendant{ID: "ATT-1", LotIDs: []string{"LOT-1"}}))
	require.NoError(t, s.CreateAttendant(ctx, model.Attendant{ID: "ATT-2", LotIDs: []string{"LOT-2"}}))
	require.NoError(t, s.CreateCoordinator(ctx, model.Coordinator{ID: "COORD-1", AttendantIDs: []string{"ATT-1", "ATT-2"}}))
	return s
}

// assertLotInvariants checks occupancy bounds, fullness and single
// occupancy across the whole store.
func assertLotInvariants(t *testing.T, s Store) {
	t.Helper()
	lots, err := s.FindAllLots(context.Background())
	require.NoError(t, err)
	seen := map[string]string{}
	for _, l := range lots {
		require.GreaterOrEqual(t, len(l.Occupants), 0)
		require.LessOrEqual(t, len(l.Occupants), l.Capacity, "lot %s over capacity", l.ID)
		require.Equal(t, len(l.Occupants) == l.Capacity, l.IsFull, "lot %s fullness", l.ID)
		for _, o := range l.Occupants {
			prev, dup := seen[o.VehicleID]
			require.False(t, dup, "vehicle %s in %s and %s", o.VehicleID, prev, l.ID)
			seen[o.VehicleID] = l.ID
		}
	}
}

// faultyStore fails selected operations.
type faultyStore struct {
	*repository.MemoryStore
	failSave      bool
	failHistory   bool
	failAttendant string
}

func (f *faultyStore) SaveLot(ctx context.Context, lot *model.Lot) error {
	if f.failSave {
		return errDBDown
	}
	return f.MemoryStore.SaveLot(ctx, lot)
}

func (f *faultyStore) InsertHistoryEntry(ctx context.Context, e *model.HistoryEntry) error {
	if f.failHistory {
		return errDBDown
	}
	return f.MemoryStore.InsertHistoryEntry(ctx, e)
}

func (f *faultyStore) FindAttendantByID(ctx context.Context, id string) (*model.Attendant, error) {
	if id == f.failAttendant {
		return nil, errDBDown
	}
	return f.MemoryStore.FindAttendantByID(ctx, id)
}

// recordingSink collects dispatched events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
