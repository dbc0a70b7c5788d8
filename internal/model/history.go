package model

import "time"

// Action is the kind of event recorded in the parking history.
type Action string

const (
	ActionPark   Action = "PARK"
	ActionUnpark Action = "UNPARK"
)

// HistoryEntry is one append-only record of a park or unpark.  Entries
// are never updated or deleted.
//
// Fields:
//  ID        – monotonically increasing key assigned by the store.
//  VehicleID – vehicle that was parked or released.
//  LotID     – lot the vehicle entered or left.
//  Action    – PARK or UNPARK.
//  CreatedAt – time of the event (UTC).
type HistoryEntry struct {
	ID        uint64    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	LotID     string    `json:"lot_id"`
	Action    Action    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}
