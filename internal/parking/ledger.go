package parking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

// Transition describes how a park or unpark changed a lot's fullness.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionBecameFull
	TransitionBecameAvailable
)

func (t Transition) String() string {
	switch t {
	case TransitionBecameFull:
		return "became_full"
	case TransitionBecameAvailable:
		return "became_available"
	}
	return "none"
}

// Ledger does the capacity accounting of individual lots.  Every
// successful Park or Unpark persists the lot and appends exactly one
// history entry.  The ledger never notifies anyone; the returned
// Transition tells the caller whether the lot crossed the full boundary.
type Ledger struct {
	store   Store
	history *HistoryLog
	now     func() time.Time
}

func NewLedger(store Store, history *HistoryLog, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{store: store, history: history, now: now}
}

// AvailableCapacity returns the number of free spaces in lot.
func AvailableCapacity(lot *model.Lot) int {
	return lot.Available()
}

// Park records vehicleID as an occupant of lot.  lot must be the value
// most recently read from the store; on success it reflects the saved
// state.  The lot save and the history append are separate writes: if the
// append fails the vehicle stays parked without a PARK entry and the
// error is returned.
func (l *Ledger) Park(ctx context.Context, lot *model.Lot, vehicleID string) (model.Occupant, Transition, error) {
	if err := validateVehicleID(vehicleID); err != nil {
		return model.Occupant{}, TransitionNone, err
	}
	if err := l.ensureNotParked(ctx, vehicleID); err != nil {
		return model.Occupant{}, TransitionNone, err
	}
	if lot.Available() <= 0 {
		return model.Occupant{}, TransitionNone, ErrLotFull
	}

	next := lot.Clone()
	occ := model.Occupant{VehicleID: vehicleID, ParkedAt: l.now()}
	next.Occupants = append(next.Occupants, occ)
	next.IsFull = len(next.Occupants) == next.Capacity

	if err := l.store.SaveLot(ctx, &next); err != nil {
		return model.Occupant{}, TransitionNone, fmt.Errorf("save lot %s: %w", lot.ID, err)
	}
	*lot = next

	if _, err := l.history.Record(ctx, vehicleID, lot.ID, model.ActionPark, occ.ParkedAt); err != nil {
		return model.Occupant{}, TransitionNone, err
	}

	tr := TransitionNone
	if lot.IsFull {
		tr = TransitionBecameFull
	}
	return occ, tr, nil
}

// Unpark removes vehicleID from whichever lot holds it.  It returns the
// removed occupant and the lot as saved.
func (l *Ledger) Unpark(ctx context.Context, vehicleID string) (model.Occupant, *model.Lot, Transition, error) {
	if err := validateVehicleID(vehicleID); err != nil {
		return model.Occupant{}, nil, TransitionNone, err
	}
	lot, err := l.store.FindLotByOccupant(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, repository.ErrLotNotFound) {
			return model.Occupant{}, nil, TransitionNone, ErrNotFound
		}
		return model.Occupant{}, nil, TransitionNone, fmt.Errorf("find lot of %s: %w", vehicleID, err)
	}

	if !lot.Holds(vehicleID) {
		return model.Occupant{}, nil, TransitionNone, ErrNotFound
	}
	wasFull := lot.IsFull
	var (
		removed model.Occupant
		kept    = make([]model.Occupant, 0, len(lot.Occupants)-1)
	)
	for _, o := range lot.Occupants {
		if o.VehicleID == vehicleID {
			removed = o
			continue
		}
		kept = append(kept, o)
	}
	lot.Occupants = kept
	lot.IsFull = false

	if err := l.store.SaveLot(ctx, lot); err != nil {
		return model.Occupant{}, nil, TransitionNone, fmt.Errorf("save lot %s: %w", lot.ID, err)
	}
	if _, err := l.history.Record(ctx, vehicleID, lot.ID, model.ActionUnpark, l.now()); err != nil {
		return model.Occupant{}, nil, TransitionNone, err
	}

	tr := TransitionNone
	if wasFull {
		tr = TransitionBecameAvailable
	}
	return removed, lot, tr, nil
}

func (l *Ledger) ensureNotParked(ctx context.Context, vehicleID string) error {
	_, err := l.store.FindLotByOccupant(ctx, vehicleID)
	switch {
	case err == nil:
		return ErrAlreadyParked
	case errors.Is(err, repository.ErrLotNotFound):
		return nil
	default:
		return fmt.Errorf("check occupancy of %s: %w", vehicleID, err)
	}
}

func validateVehicleID(vehicleID string) error {
	if strings.TrimSpace(vehicleID) == "" {
		return invalid("vehicle_id", "must not be empty")
	}
	if len(vehicleID) > 64 {
		return invalid("vehicle_id", "must be at most 64 characters")
	}
	return nil
}
