package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestID propagates X-Request-ID, generating a UUID when the client
// sent none, and tags the active span with it.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			c.Set("request_id", id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			trace.SpanFromContext(c.Request().Context()).SetAttributes(attribute.String("http.request_id", id))
			return next(c)
		}
	}
}
