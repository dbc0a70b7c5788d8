package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-lot-allocation/internal/handler"
	"github.com/iliyamo/parking-lot-allocation/internal/middleware"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
	"github.com/iliyamo/parking-lot-allocation/internal/telemetry"
	"github.com/iliyamo/parking-lot-allocation/internal/utils"
)

func TestRoutes(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateLot(ctx, "LOT-1", 1))
	alloc := parking.NewAllocator(store)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(telemetry.NewFleetCollector(alloc)))

	e := New(Deps{
		ServiceName: "test",
		JWTSecret:   "s",
		Gatherer:    reg,
		Parking:     handler.NewParkingHandler(alloc),
	})

	tok, err := utils.NewAccessToken("s", "op-1", middleware.RoleOperator, time.Hour)
	require.NoError(t, err)

	serve := func(method, target, body string, auth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if auth {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/healthz", "", false).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/v1/status", "", false).Code)

	rec := serve(http.MethodPost, "/v1/park", `{"vehicle_id":"CAR-1"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = serve(http.MethodPost, "/v1/park", `{"vehicle_id":"CAR-2"}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `parking_lot_full{lot_id="LOT-1"} 1`)

	assert.Equal(t, http.StatusOK, serve(http.MethodDelete, "/v1/unpark/CAR-1", "", true).Code)
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/v1/history?vehicle_id=CAR-1", "", true).Code)
}
