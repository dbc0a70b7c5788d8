package config

// Redis backs the per-vehicle lock and the rate limiter.  When the server
// is unreachable at startup NewRedisClient returns nil and callers run
// without either.

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from the environment:
//
//	REDIS_ADDR              host:port (default localhost:6379)
//	REDIS_HOST, REDIS_PORT  override REDIS_ADDR when both are set
//	REDIS_PASSWORD          optional password
//	REDIS_DB                database number (default 0)
//	REDIS_TLS               "true" or "1" enables TLS
func RedisOptions() *redis.Options {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	dbNum := 0
	if s := os.Getenv("REDIS_DB"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			dbNum = n
		}
	}
	var tlsConf *tls.Config
	if v := os.Getenv("REDIS_TLS"); strings.EqualFold(v, "true") || v == "1" {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        dbNum,
		TLSConfig: tlsConf,
	}
}

// NewRedisClient connects with RedisOptions and pings the server with a
// two second timeout.  It returns nil when the ping fails.
func NewRedisClient(ctx context.Context) *redis.Client {
	client := redis.NewClient(RedisOptions())
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
