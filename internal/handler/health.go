package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a function, e.g. a Redis ping, to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthHandler serves /healthz.  With no pingers configured (memory
// store) it always reports ok.
type HealthHandler struct {
	Checks map[string]Pinger
}

// Health returns 200 "ok" when every dependency answers a ping within two
// seconds and 503 with the failing dependency names otherwise.  Load
// balancers use it to take an instance out of rotation.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, p := range h.Checks {
		if err := p.PingContext(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "failed": failed})
	}
	return c.String(http.StatusOK, "ok")
}
