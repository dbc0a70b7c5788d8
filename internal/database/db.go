package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Options describes a MySQL connection.  Zero pool values fall back to the
// defaults used in production.
type Options struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	MaxConns int
	Lifetime time.Duration
}

// DSN builds the driver connection string.  parseTime maps DATETIME(6)
// columns to time.Time and loc=UTC keeps parked_at/created_at comparable
// across hosts.
func (o Options) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Pass
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", o.Host, o.Port)
	cfg.DBName = o.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and verifies the connection within five seconds.
func Open(ctx context.Context, o Options) (*sql.DB, error) {
	db, err := sql.Open("mysql", o.DSN())
	if err != nil {
		return nil, fmt.Errorf("database.Open: %w", err)
	}

	maxConns := o.MaxConns
	if maxConns <= 0 {
		maxConns = 25
	}
	lifetime := o.Lifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database.Open (ping): %w", err)
	}
	return db, nil
}
