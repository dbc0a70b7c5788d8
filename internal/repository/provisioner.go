package repository

import (
	"context"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
)

// Provisioner creates fleet entities.  All methods are idempotent: an id
// that already exists is left unchanged and no error is returned.
type Provisioner interface {
	CreateLot(ctx context.Context, id string, capacity int) error
	CreateAttendant(ctx context.Context, a model.Attendant) error
	CreateCoordinator(ctx context.Context, c model.Coordinator) error
}

var (
	_ Provisioner = (*MemoryStore)(nil)
	_ Provisioner = (*MySQLStore)(nil)
)
