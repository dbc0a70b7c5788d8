package parking

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

// HistoryLog is the append-only record of park and unpark events.
type HistoryLog struct {
	store Store
}

func NewHistoryLog(store Store) *HistoryLog {
	return &HistoryLog{store: store}
}

// Record appends one entry.  A persistence failure is returned to the
// caller, never swallowed.
func (h *HistoryLog) Record(ctx context.Context, vehicleID, lotID string, action model.Action, at time.Time) (model.HistoryEntry, error) {
	e := model.HistoryEntry{
		VehicleID: vehicleID,
		LotID:     lotID,
		Action:    action,
		CreatedAt: at.UTC(),
	}
	if err := h.store.InsertHistoryEntry(ctx, &e); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("record %s history: %w", action, err)
	}
	return e, nil
}

// Query returns every matching entry, newest first.  The result is fully
// materialized and reading it has no side effects.
func (h *HistoryLog) Query(ctx context.Context, f repository.HistoryFilter) ([]model.HistoryEntry, error) {
	entries, err := h.store.FindHistoryEntries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return entries, nil
}
