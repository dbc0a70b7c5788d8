// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/iliyamo/parking-lot-allocation/internal/config"
	"github.com/iliyamo/parking-lot-allocation/internal/handler"
	"github.com/iliyamo/parking-lot-allocation/internal/middleware"
)

// Deps carries everything the routes need.  Redis and Gatherer may be
// nil: rate limiting is then disabled and /metrics is not exposed.
type Deps struct {
	ServiceName string
	JWTSecret   string
	RateLimit   config.RateLimitConfig
	Redis       *redis.Client
	Metrics     echo.MiddlewareFunc
	Gatherer    prometheus.Gatherer
	Parking     *handler.ParkingHandler
	Health      *handler.HealthHandler
}

// New builds the echo instance with the global middleware chain and all
// routes registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(d.ServiceName))
	e.Use(middleware.RequestID())
	if d.Metrics != nil {
		e.Use(d.Metrics)
	}

	Register(e, d)
	return e
}

// Register maps the public and protected routes.
//
//	GET    /healthz                 liveness plus dependency pings
//	GET    /metrics                 Prometheus scrape endpoint
//	POST   /v1/park                 place a vehicle
//	DELETE /v1/unpark/:vehicle_id   release a vehicle
//	GET    /v1/status               occupancy of every lot
//	GET    /v1/history              park/unpark history, newest first
//
// /v1 requires a bearer token with role OPERATOR or ADMIN and is rate
// limited per operator and route.
func Register(e *echo.Echo, d Deps) {
	health := d.Health
	if health == nil {
		health = &handler.HealthHandler{}
	}
	e.GET("/healthz", health.Health)
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(d.JWTSecret))
	v1.Use(middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin))
	v1.Use(middleware.NewTokenBucket(d.RateLimit, d.Redis))

	v1.POST("/park", d.Parking.Park)
	v1.DELETE("/unpark/:vehicle_id", d.Parking.Unpark)
	v1.GET("/status", d.Parking.Status)
	v1.GET("/history", d.Parking.History)
}
