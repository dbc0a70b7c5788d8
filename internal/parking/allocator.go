package parking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/parking-lot-allocation/internal/logging"
	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

// PlaceRequest asks for a vehicle to be parked.  At most one target may
// be set: CoordinatorID, AttendantID or LotIDs.  With no target the whole
// fleet is the candidate set.
type PlaceRequest struct {
	VehicleID     string         `json:"vehicle_id"`
	Strategy      model.Strategy `json:"strategy,omitempty"`
	CoordinatorID string         `json:"coordinator_id,omitempty"`
	AttendantID   string         `json:"attendant_id,omitempty"`
	LotIDs        []string       `json:"lot_ids,omitempty"`
}

// Placement is the result of a successful PlaceVehicle.
type Placement struct {
	VehicleID   string    `json:"vehicle_id"`
	LotID       string    `json:"lot_id"`
	AttendantID string    `json:"attendant_id,omitempty"`
	ParkedAt    time.Time `json:"parked_at"`
}

// Release is the result of a successful ReleaseVehicle.
type Release struct {
	VehicleID  string    `json:"vehicle_id"`
	LotID      string    `json:"lot_id"`
	ParkedAt   time.Time `json:"parked_at"`
	ReleasedAt time.Time `json:"released_at"`
}

// LotStatus is the occupancy snapshot of one lot.
type LotStatus struct {
	LotID             string `json:"lot_id"`
	Capacity          int    `json:"capacity"`
	AvailableCapacity int    `json:"available_capacity"`
	IsFull            bool   `json:"is_full"`
	OccupiedCount     int    `json:"occupied_count"`
}

// VehicleLocker serializes requests for the same vehicle.  Acquire fails
// with ErrVehicleBusy when another holder exists.
type VehicleLocker interface {
	Acquire(ctx context.Context, vehicleID string) (release func(), err error)
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source used for occupants, history and
// events.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithLocker enables per-vehicle serialization.
func WithLocker(l VehicleLocker) Option {
	return func(a *Allocator) { a.locker = l }
}

// WithSinks registers event sinks, called in order.
func WithSinks(sinks ...EventSink) Option {
	return func(a *Allocator) { a.sinks = append(a.sinks, sinks...) }
}

// Allocator resolves a request through the coordinator → attendant → lot
// hierarchy, picks a lot with the placement strategy and commits the
// placement through the ledger.
type Allocator struct {
	store   Store
	ledger  *Ledger
	history *HistoryLog
	locker  VehicleLocker
	sinks   []EventSink
	now     func() time.Time
}

func NewAllocator(store Store, opts ...Option) *Allocator {
	a := &Allocator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.history = NewHistoryLog(store)
	a.ledger = NewLedger(store, a.history, a.now)
	return a
}

// PlaceVehicle parks req.VehicleID.
//
// Through a coordinator, attendants are tried in configured order and a
// "no capacity" outcome moves on to the next one.  An attendant id the
// coordinator lists but the store does not know counts as no capacity.
// ErrAlreadyParked and persistence errors stop the walk immediately.
func (a *Allocator) PlaceVehicle(ctx context.Context, req PlaceRequest) (Placement, error) {
	if err := validatePlaceRequest(req); err != nil {
		return Placement{}, err
	}
	release, err := a.lock(ctx, req.VehicleID)
	if err != nil {
		return Placement{}, err
	}
	defer release()

	if err := a.ledger.ensureNotParked(ctx, req.VehicleID); err != nil {
		return Placement{}, err
	}

	var p placed
	switch {
	case req.CoordinatorID != "":
		p, err = a.placeViaCoordinator(ctx, req)
	case req.AttendantID != "":
		p, err = a.placeViaAttendant(ctx, req.AttendantID, req)
	case len(req.LotIDs) > 0:
		p, err = a.placeInLots(ctx, req.LotIDs, req)
	default:
		p, err = a.placeAnywhere(ctx, req)
	}
	if err != nil {
		return Placement{}, err
	}

	a.dispatch(ctx, Event{Type: EventParked, VehicleID: req.VehicleID, LotID: p.lotID, AttendantID: p.attendantID, OccurredAt: p.occupant.ParkedAt})
	if p.transition == TransitionBecameFull {
		a.dispatch(ctx, Event{Type: EventLotFull, VehicleID: req.VehicleID, LotID: p.lotID, AttendantID: p.attendantID, OccurredAt: p.occupant.ParkedAt})
	}

	return Placement{
		VehicleID:   req.VehicleID,
		LotID:       p.lotID,
		AttendantID: p.attendantID,
		ParkedAt:    p.occupant.ParkedAt,
	}, nil
}

type placed struct {
	lotID       string
	attendantID string
	occupant    model.Occupant
	transition  Transition
}

func (a *Allocator) placeViaCoordinator(ctx context.Context, req PlaceRequest) (placed, error) {
	coord, err := a.store.FindCoordinatorByID(ctx, req.CoordinatorID)
	if err != nil {
		if errors.Is(err, repository.ErrCoordinatorNotFound) {
			return placed{}, ErrCoordinatorNotFound
		}
		return placed{}, fmt.Errorf("find coordinator %s: %w", req.CoordinatorID, err)
	}

	tried := make(map[string]struct{}, len(coord.AttendantIDs))
	for _, attID := range coord.AttendantIDs {
		if _, ok := tried[attID]; ok {
			continue
		}
		tried[attID] = struct{}{}

		p, err := a.placeViaAttendant(ctx, attID, req)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, ErrNoCapacity), errors.Is(err, ErrLotFull), errors.Is(err, ErrAttendantNotFound):
			logging.Debug(ctx).
				Str("coordinator_id", coord.ID).
				Str("attendant_id", attID).
				Str("vehicle_id", req.VehicleID).
				Err(err).
				Msg("attendant could not place vehicle, trying next")
		default:
			return placed{}, err
		}
	}
	return placed{}, ErrNoAvailableAttendant
}

func (a *Allocator) placeViaAttendant(ctx context.Context, attendantID string, req PlaceRequest) (placed, error) {
	att, err := a.store.FindAttendantByID(ctx, attendantID)
	if err != nil {
		if errors.Is(err, repository.ErrAttendantNotFound) {
			return placed{}, ErrAttendantNotFound
		}
		return placed{}, fmt.Errorf("find attendant %s: %w", attendantID, err)
	}
	p, err := a.placeInLots(ctx, att.LotIDs, req)
	if err != nil {
		return placed{}, err
	}
	p.attendantID = att.ID
	return p, nil
}

func (a *Allocator) placeInLots(ctx context.Context, lotIDs []string, req PlaceRequest) (placed, error) {
	ids := dedupe(lotIDs)
	if len(ids) == 0 {
		return placed{}, ErrNoCapacity
	}
	lots, err := a.store.FindLotsByIDs(ctx, ids)
	if err != nil {
		return placed{}, fmt.Errorf("load lots: %w", err)
	}
	return a.commit(ctx, lots, req)
}

func (a *Allocator) placeAnywhere(ctx context.Context, req PlaceRequest) (placed, error) {
	lots, err := a.store.FindAllLots(ctx)
	if err != nil {
		return placed{}, fmt.Errorf("load lots: %w", err)
	}
	return a.commit(ctx, lots, req)
}

func (a *Allocator) commit(ctx context.Context, lots []*model.Lot, req PlaceRequest) (placed, error) {
	snapshot := make([]model.Lot, len(lots))
	for i, l := range lots {
		snapshot[i] = *l
	}
	chosen, err := SelectLot(snapshot, req.Strategy)
	if err != nil {
		return placed{}, err
	}

	var target *model.Lot
	for _, l := range lots {
		if l.ID == chosen.ID {
			target = l
			break
		}
	}
	occ, tr, err := a.ledger.Park(ctx, target, req.VehicleID)
	if err != nil {
		return placed{}, err
	}
	return placed{lotID: target.ID, occupant: occ, transition: tr}, nil
}

// ReleaseVehicle frees the space held by vehicleID.
func (a *Allocator) ReleaseVehicle(ctx context.Context, vehicleID string) (Release, error) {
	if err := validateVehicleID(vehicleID); err != nil {
		return Release{}, err
	}
	release, err := a.lock(ctx, vehicleID)
	if err != nil {
		return Release{}, err
	}
	defer release()

	occ, lot, tr, err := a.ledger.Unpark(ctx, vehicleID)
	if err != nil {
		return Release{}, err
	}
	at := a.now()

	a.dispatch(ctx, Event{Type: EventUnparked, VehicleID: vehicleID, LotID: lot.ID, OccurredAt: at})
	if tr == TransitionBecameAvailable {
		a.dispatch(ctx, Event{Type: EventLotAvailable, VehicleID: vehicleID, LotID: lot.ID, OccurredAt: at})
	}

	return Release{
		VehicleID:  vehicleID,
		LotID:      lot.ID,
		ParkedAt:   occ.ParkedAt,
		ReleasedAt: at,
	}, nil
}

// FleetStatus reports every lot in provisioning order.
func (a *Allocator) FleetStatus(ctx context.Context) ([]LotStatus, error) {
	lots, err := a.store.FindAllLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load lots: %w", err)
	}
	out := make([]LotStatus, 0, len(lots))
	for _, l := range lots {
		out = append(out, LotStatus{
			LotID:             l.ID,
			Capacity:          l.Capacity,
			AvailableCapacity: l.Available(),
			IsFull:            l.IsFull,
			OccupiedCount:     len(l.Occupants),
		})
	}
	return out, nil
}

// History returns matching history entries, newest first.
func (a *Allocator) History(ctx context.Context, f repository.HistoryFilter) ([]model.HistoryEntry, error) {
	return a.history.Query(ctx, f)
}

func (a *Allocator) lock(ctx context.Context, vehicleID string) (func(), error) {
	if a.locker == nil {
		return func() {}, nil
	}
	return a.locker.Acquire(ctx, vehicleID)
}

func (a *Allocator) dispatch(ctx context.Context, ev Event) {
	for _, s := range a.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			logging.Warn(ctx).
				Err(err).
				Str("event", string(ev.Type)).
				Str("lot_id", ev.LotID).
				Msg("event sink failed")
		}
	}
}

func validatePlaceRequest(req PlaceRequest) error {
	if err := validateVehicleID(req.VehicleID); err != nil {
		return err
	}
	if req.Strategy != "" && !req.Strategy.Valid() {
		return invalid("strategy", "unknown strategy "+string(req.Strategy))
	}
	targets := 0
	if req.CoordinatorID != "" {
		targets++
	}
	if req.AttendantID != "" {
		targets++
	}
	if len(req.LotIDs) > 0 {
		targets++
	}
	if targets > 1 {
		return invalid("target", "set only one of coordinator_id, attendant_id, lot_ids")
	}
	for _, id := range req.LotIDs {
		if id == "" {
			return invalid("lot_ids", "must not contain empty ids")
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
