// Package config loads application configuration from the environment.
// A .env file in the working directory is read first when present;
// variables already set in the environment win over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.
type Config struct {
	Env          string // APP_ENV (e.g. "dev", "prod")
	Port         string // APP_PORT
	DBUser       string // DB_USER
	DBPass       string // DB_PASS (optional)
	DBHost       string // DB_HOST
	DBPort       string // DB_PORT
	DBName       string // DB_NAME
	JWTSecret    string // JWT_SECRET
	AccessTTLMin int    // ACCESS_TOKEN_TTL_MIN

	StoreDriver string // STORE_DRIVER: mysql (default) or memory
	FleetFile   string // FLEET_FILE: YAML fleet topology provisioned at startup

	VehicleLockEnabled bool          // VEHICLE_LOCK_ENABLED: per-vehicle Redis lock
	VehicleLockTTL     time.Duration // VEHICLE_LOCK_TTL

	RabbitMQURL     string // RABBITMQ_URL (AMQP_URL accepted as fallback); empty disables events
	NotificationLog string // NOTIFICATION_LOG: file the owner-notification consumer appends to

	OTelEnabled     bool   // OTEL_ENABLED: export traces and metrics over OTLP/HTTP
	OTelServiceName string // OTEL_SERVICE_NAME
	OTelEndpoint    string // OTEL_EXPORTER_OTLP_ENDPOINT (empty: exporter default)
}

// IsDevelopment reports whether the service runs in a development
// environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// Load reads .env (if any) and the environment.  Missing required
// variables are reported together in one error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:                envStr("APP_ENV", "dev"),
		Port:               envStr("APP_PORT", "8080"),
		DBPass:             os.Getenv("DB_PASS"),
		JWTSecret:          must("JWT_SECRET"),
		AccessTTLMin:       envInt("ACCESS_TOKEN_TTL_MIN", 60),
		StoreDriver:        strings.ToLower(envStr("STORE_DRIVER", StoreMySQL)),
		FleetFile:          os.Getenv("FLEET_FILE"),
		VehicleLockEnabled: envBool("VEHICLE_LOCK_ENABLED", false),
		VehicleLockTTL:     envDur("VEHICLE_LOCK_TTL", 5*time.Second),
		RabbitMQURL:        envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		NotificationLog:    envStr("NOTIFICATION_LOG", "logs/parking.log"),
		OTelEnabled:        envBool("OTEL_ENABLED", false),
		OTelServiceName:    envStr("OTEL_SERVICE_NAME", "parking-allocation"),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	switch cfg.StoreDriver {
	case StoreMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q (want %s or %s)", cfg.StoreDriver, StoreMySQL, StoreMemory)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if cfg.AccessTTLMin <= 0 {
		return Config{}, fmt.Errorf("invalid ACCESS_TOKEN_TTL_MIN %d", cfg.AccessTTLMin)
	}
	return cfg, nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
		return b
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
