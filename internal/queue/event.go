// Package queue defines the lot event payload exchanged over RabbitMQ and
// the consumer that turns it into owner notifications.
package queue

import (
	"time"

	"github.com/iliyamo/parking-lot-allocation/internal/parking"
)

// LotEventsQueue is the durable queue lot events are published to.
const LotEventsQueue = "parking.lot_events"

// LotEvent is published after every committed park or unpark.  It carries
// enough for a consumer to notify lot owners without reading the store.
type LotEvent struct {
	Type        string `json:"type"`
	VehicleID   string `json:"vehicle_id"`
	LotID       string `json:"lot_id"`
	AttendantID string `json:"attendant_id,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

// NewLotEvent converts an allocator event to its wire form.
func NewLotEvent(ev parking.Event) LotEvent {
	return LotEvent{
		Type:        string(ev.Type),
		VehicleID:   ev.VehicleID,
		LotID:       ev.LotID,
		AttendantID: ev.AttendantID,
		OccurredAt:  ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
