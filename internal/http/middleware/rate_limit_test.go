package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func limitedRouter(client *redis.Client, rule RateLimitRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/requests/:id/verify",
		func(c *gin.Context) { c.Set(callerUIDKey, "caller-1"); c.Next() },
		RateLimit(client, rule, KeyByCallerAndParam("id"), zap.NewNop()),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)
	return r
}

func TestRateLimit_WithoutClientPassesThrough(t *testing.T) {
	r := limitedRouter(nil, RateLimitRule{WindowSeconds: 60, MaxRequests: 1})
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/requests/r1/verify", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status want 200 got %d", i, w.Code)
		}
	}
}

func TestRateLimit_BlocksAfterMaxAttempts(t *testing.T) {
	addr := os.Getenv("HANDOFF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HANDOFF_TEST_REDIS_ADDR not set; skipping redis-backed rate limit test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}

	rule := RateLimitRule{Prefix: "test:" + uuid.NewString(), WindowSeconds: 60, MaxRequests: 2}
	r := limitedRouter(client, rule)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/requests/r1/verify", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After header")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	// A different request id has its own budget.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/requests/r2/verify", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
}

func TestToInt64(t *testing.T) {
	cases := []struct {
		name  string
		input interface{}
		want  int64
		ok    bool
	}{
		{name: "int64", input: int64(10), want: 10, ok: true},
		{name: "int", input: int(11), want: 11, ok: true},
		{name: "float64", input: float64(13.9), want: 13, ok: true},
		{name: "string", input: "bad", want: 0, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := toInt64(tc.input)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("want (%d,%v) got (%d,%v)", tc.want, tc.ok, got, ok)
			}
		})
	}
}
