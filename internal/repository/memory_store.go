package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
)

// MemoryStore keeps the fleet in process memory.  It is safe for
// concurrent use and returns copies, so callers never share state with
// the store.  Vehicle lookups go through an index keyed by vehicle id.
type MemoryStore struct {
	mu           sync.RWMutex
	lots         map[string]model.Lot
	lotOrder     []string
	occupantIdx  map[string]string // vehicle id -> lot id
	attendants   map[string]model.Attendant
	coordinators map[string]model.Coordinator
	history      []model.HistoryEntry
	nextEntryID  uint64
	now          func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots:         make(map[string]model.Lot),
		occupantIdx:  make(map[string]string),
		attendants:   make(map[string]model.Attendant),
		coordinators: make(map[string]model.Coordinator),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateLot provisions a lot.  Creating an id that already exists is a
// no-op, matching the behaviour of fleet seeding on restart.
func (s *MemoryStore) CreateLot(ctx context.Context, id string, capacity int) error {
	if capacity <= 0 {
		return ErrInvalidCapacity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lots[id]; ok {
		return nil
	}
	now := s.now()
	s.lots[id] = model.Lot{ID: id, Capacity: capacity, Occupants: []model.Occupant{}, CreatedAt: now, UpdatedAt: now}
	s.lotOrder = append(s.lotOrder, id)
	return nil
}

// CreateAttendant provisions an attendant; existing ids are left untouched.
func (s *MemoryStore) CreateAttendant(ctx context.Context, a model.Attendant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attendants[a.ID]; ok {
		return nil
	}
	a.LotIDs = append([]string(nil), a.LotIDs...)
	s.attendants[a.ID] = a
	return nil
}

// CreateCoordinator provisions a coordinator; existing ids are left untouched.
func (s *MemoryStore) CreateCoordinator(ctx context.Context, c model.Coordinator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.coordinators[c.ID]; ok {
		return nil
	}
	c.AttendantIDs = append([]string(nil), c.AttendantIDs...)
	s.coordinators[c.ID] = c
	return nil
}

func (s *MemoryStore) FindLotByID(ctx context.Context, id string) (*model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lot, ok := s.lots[id]
	if !ok {
		return nil, ErrLotNotFound
	}
	out := lot.Clone()
	return &out, nil
}

// FindLotsByIDs returns the lots in the order of ids.  Unknown ids are
// skipped.
func (s *MemoryStore) FindLotsByIDs(ctx context.Context, ids []string) ([]*model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Lot, 0, len(ids))
	for _, id := range ids {
		if lot, ok := s.lots[id]; ok {
			c := lot.Clone()
			out = append(out, &c)
		}
	}
	return out, nil
}

// FindAllLots returns every lot in provisioning order.
func (s *MemoryStore) FindAllLots(ctx context.Context) ([]*model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Lot, 0, len(s.lotOrder))
	for _, id := range s.lotOrder {
		c := s.lots[id].Clone()
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) FindLotByOccupant(ctx context.Context, vehicleID string) (*model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lotID, ok := s.occupantIdx[vehicleID]
	if !ok {
		return nil, ErrLotNotFound
	}
	c := s.lots[lotID].Clone()
	return &c, nil
}

// SaveLot replaces the stored lot if its version still matches.  On
// success the caller's lot carries the new version and update time.
func (s *MemoryStore) SaveLot(ctx context.Context, lot *model.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.lots[lot.ID]
	if !ok {
		return ErrLotNotFound
	}
	if stored.Version != lot.Version {
		return ErrVersionConflict
	}
	for _, o := range stored.Occupants {
		if s.occupantIdx[o.VehicleID] == lot.ID {
			delete(s.occupantIdx, o.VehicleID)
		}
	}
	lot.Version++
	lot.UpdatedAt = s.now()
	next := lot.Clone()
	for _, o := range next.Occupants {
		s.occupantIdx[o.VehicleID] = lot.ID
	}
	s.lots[lot.ID] = next
	return nil
}

func (s *MemoryStore) FindAttendantByID(ctx context.Context, id string) (*model.Attendant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attendants[id]
	if !ok {
		return nil, ErrAttendantNotFound
	}
	a.LotIDs = append([]string(nil), a.LotIDs...)
	return &a, nil
}

func (s *MemoryStore) FindCoordinatorByID(ctx context.Context, id string) (*model.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coordinators[id]
	if !ok {
		return nil, ErrCoordinatorNotFound
	}
	c.AttendantIDs = append([]string(nil), c.AttendantIDs...)
	return &c, nil
}

// InsertHistoryEntry appends an entry and assigns its ID.
func (s *MemoryStore) InsertHistoryEntry(ctx context.Context, e *model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEntryID++
	e.ID = s.nextEntryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.history = append(s.history, *e)
	return nil
}

// FindHistoryEntries returns matching entries newest first.  Entries with
// equal timestamps are ordered by ID, highest first.
func (s *MemoryStore) FindHistoryEntries(ctx context.Context, f HistoryFilter) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.HistoryEntry, 0, len(s.history))
	for _, e := range s.history {
		if f.matches(e.VehicleID, e.LotID) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
