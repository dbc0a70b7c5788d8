// Package repository implements the persistence collaborator of the
// allocation core.  Two stores are provided: MySQLStore for durable
// deployments and MemoryStore for tests and single-process runs.  Both
// honour the same contract: every successful write is visible to the
// next read, and SaveLot is an atomic compare-and-set on the lot version.
//
// The sentinel values below let the allocation core distinguish a
// missing record from a database failure.
package repository

import "errors"

// ErrLotNotFound is returned when no lot matches the lookup.
var ErrLotNotFound = errors.New("lot not found")

// ErrAttendantNotFound is returned when no attendant matches the id.
var ErrAttendantNotFound = errors.New("attendant not found")

// ErrCoordinatorNotFound is returned when no coordinator matches the id.
var ErrCoordinatorNotFound = errors.New("coordinator not found")

// ErrVersionConflict is returned by SaveLot when the lot was modified
// after it was read.  Callers must not retry blindly; the request that
// observed the conflict is failed.
var ErrVersionConflict = errors.New("lot was modified concurrently")

// ErrInvalidCapacity is returned when provisioning a lot with a
// non-positive capacity.
var ErrInvalidCapacity = errors.New("lot capacity must be positive")

// HistoryFilter narrows a history query.  Empty fields match everything.
type HistoryFilter struct {
	VehicleID string
	LotID     string
}

func (f HistoryFilter) matches(vehicleID, lotID string) bool {
	if f.VehicleID != "" && f.VehicleID != vehicleID {
		return false
	}
	if f.LotID != "" && f.LotID != lotID {
		return false
	}
	return true
}
