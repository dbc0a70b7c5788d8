package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

// Allocator is the part of the allocation core the HTTP layer calls.
// Both *parking.Allocator and *parking.InstrumentedAllocator satisfy it.
type Allocator interface {
	PlaceVehicle(ctx context.Context, req parking.PlaceRequest) (parking.Placement, error)
	ReleaseVehicle(ctx context.Context, vehicleID string) (parking.Release, error)
	FleetStatus(ctx context.Context) ([]parking.LotStatus, error)
	History(ctx context.Context, f repository.HistoryFilter) ([]model.HistoryEntry, error)
}

// ParkingHandler exposes the allocator over HTTP.  Errors are returned to
// echo and rendered by ErrorHandler.
type ParkingHandler struct {
	Alloc Allocator
}

func NewParkingHandler(a Allocator) *ParkingHandler {
	return &ParkingHandler{Alloc: a}
}

// parkRequest is the body of POST /v1/park.  Set at most one of
// coordinator_id, attendant_id and lot_ids; with none the whole fleet is
// searched.
type parkRequest struct {
	VehicleID     string   `json:"vehicle_id"`
	Strategy      string   `json:"strategy"`
	CoordinatorID string   `json:"coordinator_id"`
	AttendantID   string   `json:"attendant_id"`
	LotIDs        []string `json:"lot_ids"`
}

// Park handles POST /v1/park and answers 201 with the placement.
func (h *ParkingHandler) Park(c echo.Context) error {
	var body parkRequest
	if err := c.Bind(&body); err != nil {
		return &parking.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	p, err := h.Alloc.PlaceVehicle(c.Request().Context(), parking.PlaceRequest{
		VehicleID:     strings.TrimSpace(body.VehicleID),
		Strategy:      model.Strategy(strings.ToUpper(strings.TrimSpace(body.Strategy))),
		CoordinatorID: strings.TrimSpace(body.CoordinatorID),
		AttendantID:   strings.TrimSpace(body.AttendantID),
		LotIDs:        body.LotIDs,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

// Unpark handles DELETE /v1/unpark/:vehicle_id.
func (h *ParkingHandler) Unpark(c echo.Context) error {
	r, err := h.Alloc.ReleaseVehicle(c.Request().Context(), strings.TrimSpace(c.Param("vehicle_id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// Status handles GET /v1/status.
func (h *ParkingHandler) Status(c echo.Context) error {
	st, err := h.Alloc.FleetStatus(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"lots": st})
}

// History handles GET /v1/history?vehicle_id=&lot_id=, newest first.
func (h *ParkingHandler) History(c echo.Context) error {
	entries, err := h.Alloc.History(c.Request().Context(), repository.HistoryFilter{
		VehicleID: strings.TrimSpace(c.QueryParam("vehicle_id")),
		LotID:     strings.TrimSpace(c.QueryParam("lot_id")),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}
