package parking

import (
	"errors"
	"fmt"
)

// Business errors returned by the allocation core.  They are surfaced to
// callers verbatim; compare with errors.Is.
var (
	// ErrAlreadyParked means the vehicle already occupies a lot.
	ErrAlreadyParked = errors.New("vehicle already parked")
	// ErrLotFull means the chosen lot has no free space.
	ErrLotFull = errors.New("lot is full")
	// ErrNoCapacity means none of the candidate lots has free space.
	ErrNoCapacity = errors.New("no lot with available capacity")
	// ErrNotFound means the vehicle is not parked anywhere.
	ErrNotFound = errors.New("vehicle not found")
	// ErrAttendantNotFound means the requested attendant does not exist.
	ErrAttendantNotFound = errors.New("attendant not found")
	// ErrCoordinatorNotFound means the requested coordinator does not exist.
	ErrCoordinatorNotFound = errors.New("coordinator not found")
	// ErrNoAvailableAttendant means every attendant of a coordinator was
	// tried and none could place the vehicle.
	ErrNoAvailableAttendant = errors.New("no available attendant")
	// ErrVehicleBusy means another request currently holds the vehicle's
	// lock.  Only returned when a VehicleLocker is configured.
	ErrVehicleBusy = errors.New("vehicle is being processed by another request")
)

// ValidationError reports a malformed request argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
