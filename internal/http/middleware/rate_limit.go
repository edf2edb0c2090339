// README: Redis fixed-window rate limiter for OTP verification attempts.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RateLimitKeyFunc func(*gin.Context) string

type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
}

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {current, ttl}
`)

// RateLimit passes every request through when client is nil or the rule is disabled.
// A Redis failure fails open and is logged.
func RateLimit(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || rule.WindowSeconds <= 0 || rule.MaxRequests <= 0 {
			c.Next()
			return
		}

		key := ""
		if keyFunc != nil {
			key = strings.TrimSpace(keyFunc(c))
		}
		if key == "" {
			key = c.ClientIP()
		}
		if rule.Prefix != "" {
			key = fmt.Sprintf("%s:%s", rule.Prefix, key)
		}

		result, err := rateLimitScript.Run(c.Request.Context(), client, []string{key}, rule.WindowSeconds).Result()
		if err != nil {
			log.Warn("rate limit unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		values, ok := result.([]interface{})
		if !ok || len(values) < 2 {
			c.Next()
			return
		}
		count, ok := toInt64(values[0])
		if !ok {
			c.Next()
			return
		}
		if count > int64(rule.MaxRequests) {
			wait, _ := toInt64(values[1])
			if wait < 1 {
				wait = int64(rule.WindowSeconds)
			}
			c.Header("Retry-After", fmt.Sprintf("%d", wait))
			abortWithError(c, http.StatusTooManyRequests, "RateLimited",
				fmt.Sprintf("too many attempts, retry in %d seconds", wait))
			return
		}
		c.Next()
	}
}

// KeyByCallerAndParam scopes the limit to one caller acting on one resource.
func KeyByCallerAndParam(param string) RateLimitKeyFunc {
	return func(c *gin.Context) string {
		uid := CallerUID(c)
		if uid == "" {
			uid = c.ClientIP()
		}
		return fmt.Sprintf("%s|%s", uid, c.Param(param))
	}
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
