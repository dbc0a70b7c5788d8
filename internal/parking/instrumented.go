package parking

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

// InstrumentedAllocator wraps an Allocator with spans and metrics.
type InstrumentedAllocator struct {
	*Allocator
	tracer trace.Tracer

	placements        metric.Int64Counter
	releases          metric.Int64Counter
	occupancy         metric.Int64UpDownCounter
	operationDuration metric.Float64Histogram
}

func NewInstrumentedAllocator(a *Allocator, tracer trace.Tracer, meter metric.Meter) (*InstrumentedAllocator, error) {
	placements, err := meter.Int64Counter("parking_placements_total",
		metric.WithDescription("Total number of placement attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	releases, err := meter.Int64Counter("parking_releases_total",
		metric.WithDescription("Total number of release attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	occupancy, err := meter.Int64UpDownCounter("parking_fleet_occupancy",
		metric.WithDescription("Vehicles parked through this process"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram("parking_operation_duration_seconds",
		metric.WithDescription("Duration of allocation operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &InstrumentedAllocator{
		Allocator:         a,
		tracer:            tracer,
		placements:        placements,
		releases:          releases,
		occupancy:         occupancy,
		operationDuration: operationDuration,
	}, nil
}

func (ia *InstrumentedAllocator) PlaceVehicle(ctx context.Context, req PlaceRequest) (Placement, error) {
	ctx, span := ia.tracer.Start(ctx, "allocator.place_vehicle",
		trace.WithAttributes(
			attribute.String("vehicle.id", req.VehicleID),
			attribute.String("placement.strategy", string(req.Strategy)),
			attribute.String("placement.target", targetKind(req)),
		))
	defer span.End()

	start := time.Now()
	p, err := ia.Allocator.PlaceVehicle(ctx, req)

	labels := []attribute.KeyValue{
		attribute.String("operation", "place"),
		attribute.String("target", targetKind(req)),
		attribute.String("outcome", outcome(err)),
	}
	if err != nil {
		recordSpanError(span, err)
	} else {
		span.SetAttributes(
			attribute.String("lot.id", p.LotID),
			attribute.String("attendant.id", p.AttendantID),
		)
		span.AddEvent("vehicle_placed")
		ia.occupancy.Add(ctx, 1)
	}
	ia.placements.Add(ctx, 1, metric.WithAttributes(labels...))
	ia.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(labels...))
	return p, err
}

func (ia *InstrumentedAllocator) ReleaseVehicle(ctx context.Context, vehicleID string) (Release, error) {
	ctx, span := ia.tracer.Start(ctx, "allocator.release_vehicle",
		trace.WithAttributes(attribute.String("vehicle.id", vehicleID)))
	defer span.End()

	start := time.Now()
	r, err := ia.Allocator.ReleaseVehicle(ctx, vehicleID)

	labels := []attribute.KeyValue{
		attribute.String("operation", "release"),
		attribute.String("outcome", outcome(err)),
	}
	if err != nil {
		recordSpanError(span, err)
	} else {
		span.SetAttributes(attribute.String("lot.id", r.LotID))
		span.AddEvent("vehicle_released")
		ia.occupancy.Add(ctx, -1)
	}
	ia.releases.Add(ctx, 1, metric.WithAttributes(labels...))
	ia.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(labels...))
	return r, err
}

func (ia *InstrumentedAllocator) FleetStatus(ctx context.Context) ([]LotStatus, error) {
	ctx, span := ia.tracer.Start(ctx, "allocator.fleet_status")
	defer span.End()

	st, err := ia.Allocator.FleetStatus(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("fleet.lots", len(st)))
	return st, nil
}

func (ia *InstrumentedAllocator) History(ctx context.Context, f repository.HistoryFilter) ([]model.HistoryEntry, error) {
	ctx, span := ia.tracer.Start(ctx, "allocator.history",
		trace.WithAttributes(
			attribute.String("vehicle.id", f.VehicleID),
			attribute.String("lot.id", f.LotID),
		))
	defer span.End()

	entries, err := ia.Allocator.History(ctx, f)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("history.entries", len(entries)))
	return entries, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func targetKind(req PlaceRequest) string {
	switch {
	case req.CoordinatorID != "":
		return "coordinator"
	case req.AttendantID != "":
		return "attendant"
	case len(req.LotIDs) > 0:
		return "lots"
	}
	return "fleet"
}

// outcome maps an error to a low-cardinality metric label.
func outcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrAlreadyParked):
		return "already_parked"
	case errors.Is(err, ErrNoCapacity), errors.Is(err, ErrLotFull), errors.Is(err, ErrNoAvailableAttendant):
		return "no_capacity"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAttendantNotFound), errors.Is(err, ErrCoordinatorNotFound):
		return "not_found"
	case errors.Is(err, ErrVehicleBusy):
		return "busy"
	}
	return "error"
}
