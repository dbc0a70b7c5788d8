package parking

import (
	"context"
	"time"

	"github.com/iliyamo/parking-lot-allocation/internal/logging"
)

// EventType names a lot event.
type EventType string

const (
	EventParked       EventType = "PARKED"
	EventUnparked     EventType = "UNPARKED"
	EventLotFull      EventType = "LOT_FULL"
	EventLotAvailable EventType = "LOT_AVAILABLE"
)

// Event is emitted by the Allocator after a committed park or unpark.
// AttendantID is set only when the placement went through an attendant.
type Event struct {
	Type        EventType `json:"type"`
	VehicleID   string    `json:"vehicle_id"`
	LotID       string    `json:"lot_id"`
	AttendantID string    `json:"attendant_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventSink receives lot events.  Sinks are called synchronously after
// the state change is persisted; an error is logged and does not fail the
// request.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// LogSink writes owner-facing lot notifications to the process log.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventLotFull:
		logging.Info(ctx).Str("lot_id", ev.LotID).Msg("lot is now FULL")
	case EventLotAvailable:
		logging.Info(ctx).Str("lot_id", ev.LotID).Msg("lot has space available again")
	default:
		logging.Debug(ctx).
			Str("event", string(ev.Type)).
			Str("lot_id", ev.LotID).
			Str("vehicle_id", ev.VehicleID).
			Msg("lot event")
	}
	return nil
}
