package model

import "time"

// Lot is a physical parking lot with a fixed number of spaces.  Lots are
// provisioned once when the fleet is loaded and are afterwards mutated
// only by park and unpark operations.
//
// Fields:
//  ID        – unique lot key, e.g. "LOT-1".
//  Capacity  – total number of spaces; always positive.
//  Occupants – vehicles currently parked, in arrival order.
//  IsFull    – true iff len(Occupants) == Capacity.
//  Version   – optimistic locking counter incremented on every save.
//  CreatedAt – timestamp when the lot was provisioned.
//  UpdatedAt – timestamp of the last save.
type Lot struct {
	ID        string     `json:"id"`
	Capacity  int        `json:"capacity"`
	Occupants []Occupant `json:"occupants"`
	IsFull    bool       `json:"is_full"`
	Version   uint64     `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Occupant records a vehicle parked in a lot.  It only exists while the
// vehicle is parked and is owned by the lot holding it.
type Occupant struct {
	VehicleID string    `json:"vehicle_id"`
	ParkedAt  time.Time `json:"parked_at"`
}

// Available returns the number of free spaces in the lot.
func (l *Lot) Available() int {
	return l.Capacity - len(l.Occupants)
}

// Holds reports whether the vehicle is parked in this lot.
func (l *Lot) Holds(vehicleID string) bool {
	for _, o := range l.Occupants {
		if o.VehicleID == vehicleID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate the occupant list
// without touching the stored value.
func (l Lot) Clone() Lot {
	out := l
	out.Occupants = make([]Occupant, len(l.Occupants))
	copy(out.Occupants, l.Occupants)
	return out
}
