package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/parking-lot-allocation/internal/logging"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// StatusFor maps an error to its HTTP status and client-facing message.
// Business errors keep their text; anything unclassified becomes a 500
// with a generic message.
func StatusFor(err error) (int, string) {
	var (
		verr *parking.ValidationError
		herr *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, parking.ErrAlreadyParked),
		errors.Is(err, parking.ErrLotFull),
		errors.Is(err, parking.ErrNoCapacity),
		errors.Is(err, parking.ErrNoAvailableAttendant):
		return http.StatusConflict, err.Error()
	case errors.Is(err, parking.ErrNotFound),
		errors.Is(err, parking.ErrAttendantNotFound),
		errors.Is(err, parking.ErrCoordinatorNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, parking.ErrVehicleBusy):
		return http.StatusLocked, err.Error()
	case errors.As(err, &herr):
		if m, ok := herr.Message.(string); ok {
			return herr.Code, m
		}
		return herr.Code, http.StatusText(herr.Code)
	}
	return http.StatusInternalServerError, "internal server error"
}

// ErrorHandler is installed as echo's HTTPErrorHandler.  It records the
// error on the active span, logs server errors and writes an
// ErrorResponse.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	ctx := c.Request().Context()
	span := trace.SpanFromContext(ctx)
	code, message := StatusFor(err)

	span.SetAttributes(attribute.Int("http.response.status_code", code))
	if code >= http.StatusInternalServerError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.Error(ctx).
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Msg("request error")
	}

	var traceID string
	if span.SpanContext().HasTraceID() {
		traceID = span.SpanContext().TraceID().String()
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: message, TraceID: traceID})
	}
	if err != nil {
		logging.Error(ctx).Err(err).Msg("failed to write error response")
	}
}
