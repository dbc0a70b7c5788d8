package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-lot-allocation/internal/config"
	"github.com/iliyamo/parking-lot-allocation/internal/handler"
	"github.com/iliyamo/parking-lot-allocation/internal/logging"
)

// limiterScript refills the bucket for the whole intervals elapsed since
// the last refill, then tries to take one token.
//
//	KEYS[1] bucket hash
//	ARGV    now_ms, capacity, refill, interval_ms, ttl_ms
//	returns {allowed (0|1), tokens left, retry after ms}
var limiterScript = redis.NewScript(`
local now, cap, refill, every, ttl =
	tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])

local h = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens, ts = tonumber(h[1]) or cap, tonumber(h[2]) or now

local n = math.floor(math.max(0, now - ts) / every)
if n > 0 then
	tokens = math.min(cap, tokens + n * refill)
	ts = ts + n * every
end

local ok, wait = 0, 0
if tokens >= 1 then
	ok, tokens = 1, tokens - 1
else
	wait = every - (now - ts)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

// NewTokenBucket limits requests with a Redis token bucket per key (see
// RateLimitConfig.KeyStrategy).  It is a pass-through when disabled or
// when rdb is nil, and fails open on Redis errors.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := buildRateKey(cfg, c)
			args := []interface{}{
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				cfg.TTL.Milliseconds(),
			}

			vals, err := limiterScript.Run(ctx, rdb, []string{key}, args...).Int64Slice()
			if err != nil || len(vals) != 3 {
				logging.Warn(ctx).Err(err).Str("key", key).Msg("ratelimit: script failed, allowing request")
				return next(c)
			}
			allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000.0))
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, handler.ErrorResponse{Error: "rate limit exceeded"})
			}
			return next(c)
		}
	}
}

// buildRateKey joins the parts named by the key strategy, e.g.
// "ip_operator_route" -> rl:ip:1.2.3.4:operator:op-7:route:POST /v1/park.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	for _, p := range strings.Split(strings.ToLower(cfg.KeyStrategy), "_") {
		switch p {
		case "ip":
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			parts = append(parts, "ip", ip)
		case "operator", "user":
			parts = append(parts, "operator", currentOperator(c))
		case "route":
			parts = append(parts, "route", fmt.Sprintf("%s %s", c.Request().Method, c.Path()))
		}
	}
	return strings.Join(parts, ":")
}

func currentOperator(c echo.Context) string {
	if s, ok := c.Get(OperatorIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
