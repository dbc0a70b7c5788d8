package parking

import (
	"context"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

// Store is the persistence collaborator the core depends on.  Lookups
// that find nothing return the repository sentinels (ErrLotNotFound,
// ErrAttendantNotFound, ErrCoordinatorNotFound).  SaveLot is an atomic
// compare-and-set on Lot.Version and returns ErrVersionConflict when the
// lot changed since it was read.
type Store interface {
	FindLotsByIDs(ctx context.Context, ids []string) ([]*model.Lot, error)
	FindAllLots(ctx context.Context) ([]*model.Lot, error)
	FindLotByOccupant(ctx context.Context, vehicleID string) (*model.Lot, error)
	SaveLot(ctx context.Context, lot *model.Lot) error

	FindAttendantByID(ctx context.Context, id string) (*model.Attendant, error)
	FindCoordinatorByID(ctx context.Context, id string) (*model.Coordinator, error)

	InsertHistoryEntry(ctx context.Context, e *model.HistoryEntry) error
	FindHistoryEntries(ctx context.Context, f repository.HistoryFilter) ([]model.HistoryEntry, error)
}

var (
	_ Store = (*repository.MemoryStore)(nil)
	_ Store = (*repository.MySQLStore)(nil)
)
