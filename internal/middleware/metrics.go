package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iliyamo/parking-lot-allocation/internal/handler"
)

// Metrics records request count, duration and in-flight requests with the
// given meter.
func Metrics(meter metric.Meter) (echo.MiddlewareFunc, error) {
	requestCounter, err := meter.Int64Counter(
		"http.server.request.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			base := metric.WithAttributes(
				attribute.String("http.method", c.Request().Method),
				attribute.String("http.route", c.Path()),
			)

			activeRequests.Add(ctx, 1, base)
			err := next(c)
			activeRequests.Add(ctx, -1, base)

			status := c.Response().Status
			if err != nil {
				// The error handler has not written the response yet.
				status, _ = handler.StatusFor(err)
			}
			attrs := metric.WithAttributes(
				attribute.String("http.method", c.Request().Method),
				attribute.String("http.route", c.Path()),
				attribute.Int("http.status_code", status),
			)
			requestCounter.Add(ctx, 1, attrs)
			requestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
			return err
		}
	}, nil
}
