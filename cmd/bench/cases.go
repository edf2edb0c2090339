// README: Scenario cases; walks a trip through request, accept, pickup and delivery, then checks the ledger and event log.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"handoff/internal/infra"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// scenario state shared across sequential cases
	tripID       string
	requestID    string
	pickupCode   string
	deliveryCode string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN, int32(r.cfg.Concurrency)+2); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "rate limiter and queue backend reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "goose provider over embedded migrations",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.Migrate {
					return Result{Status: "SKIP", Note: "migrate=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				n, err := infra.Migrate(ctx, r.db)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("applied=%d", n)}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "schema present",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				for _, t := range []string{"trips", "parcel_requests", "request_state_events"} {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "server reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, http.MethodGet, "/health", "", nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expect(status, latency, http.StatusOK)
			},
		},
		{
			Name:  "API: unauthenticated -> 401",
			Focus: "auth middleware",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, http.MethodGet, "/api/trips/mine", "", nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expect(status, latency, http.StatusUnauthorized)
			},
		},

		// Lifecycle
		r.authed("Trip: traveller posts trip", func(ctx context.Context, r *Runner) Result {
			id, res := r.createTrip(ctx, 2)
			r.tripID = id
			return res
		}),
		r.authed("Request: sender creates request", func(ctx context.Context, r *Runner) Result {
			id, res := r.createRequest(ctx, r.tripID)
			r.requestID = id
			return res
		}),
		r.authed("Request: invalid phone -> 400", func(ctx context.Context, r *Runner) Result {
			body := requestBody()
			body["delivery_contact_phone"] = "12"
			status, _, latency, err := r.call(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/requests", r.cfg.SenderToken, body)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return expect(status, latency, http.StatusBadRequest)
		}),
		r.authed("Request: traveller accepts", func(ctx context.Context, r *Runner) Result {
			status, out, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+r.requestID+"/accept", r.cfg.TravellerToken, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			r.pickupCode, _ = out["pickup_otp"].(string)
			if status == http.StatusOK && len(r.pickupCode) != 6 {
				return Result{Status: "FAIL", Latency: latency, Note: "pickup code missing"}
			}
			return expect(status, latency, http.StatusOK)
		}),
		r.authed("Request: accept twice -> 409", func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+r.requestID+"/accept", r.cfg.TravellerToken, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return expect(status, latency, http.StatusConflict)
		}),
		r.authed("Ledger: one slot reserved", func(ctx context.Context, r *Runner) Result {
			status, out, latency, err := r.call(ctx, http.MethodGet, "/api/trips/"+r.tripID, r.cfg.TravellerToken, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			if avail, _ := out["available_slots"].(float64); avail != 1 || out["status"] != "in_progress" {
				return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("available=%v status=%v", out["available_slots"], out["status"])}
			}
			return expect(status, latency, http.StatusOK)
		}),
		r.authed("OTP: wrong pickup code -> 422", func(ctx context.Context, r *Runner) Result {
			wrong := "000000"
			if r.pickupCode == wrong {
				wrong = "999999"
			}
			status, _, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+r.requestID+"/pickup/verify", r.cfg.TravellerToken, map[string]any{"code": wrong})
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return expect(status, latency, http.StatusUnprocessableEntity)
		}),
		r.authed("OTP: pickup verified", func(ctx context.Context, r *Runner) Result {
			status, out, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+r.requestID+"/pickup/verify", r.cfg.TravellerToken, map[string]any{"code": r.pickupCode})
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			if _, leaked := out["delivery_otp"]; leaked {
				return Result{Status: "FAIL", Latency: latency, Note: "delivery code returned to traveller"}
			}
			return expect(status, latency, http.StatusOK)
		}),
		r.authed("OTP: sender reads delivery code", func(ctx context.Context, r *Runner) Result {
			status, out, latency, err := r.call(ctx, http.MethodGet, "/api/requests/"+r.requestID, r.cfg.SenderToken, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			r.deliveryCode, _ = out["delivery_otp"].(string)
			if status == http.StatusOK && len(r.deliveryCode) != 6 {
				return Result{Status: "FAIL", Latency: latency, Note: "delivery code missing"}
			}
			return expect(status, latency, http.StatusOK)
		}),
		r.authed("Request: details locked after pickup -> 409", func(ctx context.Context, r *Runner) Result {
			body := requestBody()
			status, out, latency, err := r.call(ctx, http.MethodPut, "/api/requests/"+r.requestID+"/details", r.cfg.SenderToken, map[string]any{
				"item_description": body["item_description"],
				"category":         body["category"],
				"parcel_photos":    body["parcel_photos"],
			})
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			if out["kind"] != "TooLateToEdit" {
				return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("kind=%v", out["kind"])}
			}
			return expect(status, latency, http.StatusConflict)
		}),
		r.authed("OTP: delivery verified", func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+r.requestID+"/delivery/verify", r.cfg.TravellerToken, map[string]any{"code": r.deliveryCode})
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return expect(status, latency, http.StatusOK)
		}),
		{
			Name:  "Consistency: events follow status",
			Focus: "event log and status_version agree",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil || r.requestID == "" {
					return Result{Status: "SKIP", Note: "db or scenario unavailable"}
				}
				var status string
				var version, events int
				err := r.db.QueryRow(ctx, `
SELECT r.status, r.status_version, (SELECT COUNT(*) FROM request_state_events e WHERE e.request_id = r.id)
FROM parcel_requests r WHERE r.id = $1`, r.requestID).Scan(&status, &version, &events)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				// none->pending, accepted, picked_up, delivered
				if status != "delivered" || events != 4 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%s version=%d events=%d", status, version, events)}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("version=%d", version)}
			},
		},

		r.authed("Cancel: inside window -> 409", func(ctx context.Context, r *Runner) Result {
			return cancelInsideWindow(ctx, r)
		}),
		r.authed("OTP: verify attempts rate limited -> 429", func(ctx context.Context, r *Runner) Result {
			return verifyRateLimit(ctx, r)
		}),

		// Concurrency
		r.authed("Concurrency: accepts on last slot", func(ctx context.Context, r *Runner) Result {
			return concurrentAccept(ctx, r)
		}),

		// Performance
		r.authed("Perf: trip search throughput", func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/trips?category=documents", r.cfg.SenderToken)
		}),
	}
}

// authed skips the case unless both account tokens are configured.
func (r *Runner) authed(name string, run func(ctx context.Context, r *Runner) Result) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.SenderToken == "" || r.cfg.TravellerToken == "" {
				return Result{Status: "SKIP", Note: "sender/traveller tokens not set"}
			}
			return run(ctx, r)
		},
	}
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, map[string]any, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out, latency, nil
}

func (r *Runner) createTrip(ctx context.Context, slots int) (string, Result) {
	return r.createTripDeparting(ctx, slots, 72*time.Hour)
}

func (r *Runner) createTripDeparting(ctx context.Context, slots int, in time.Duration) (string, Result) {
	dep := time.Now().Add(in)
	arr := dep.Add(3 * time.Hour)
	status, out, latency, err := r.call(ctx, http.MethodPost, "/api/trips", r.cfg.TravellerToken, map[string]any{
		"source":             "Bench Source",
		"destination":        "Bench Destination",
		"transport_mode":     "train",
		"departure_date":     dep.Format("2006-01-02"),
		"departure_time":     dep.Format("15:04"),
		"arrival_date":       arr.Format("2006-01-02"),
		"arrival_time":       arr.Format("15:04"),
		"total_slots":        slots,
		"allowed_categories": []string{"documents", "electronics"},
	})
	if err != nil {
		return "", Result{Status: "FAIL", Note: err.Error()}
	}
	id, _ := out["id"].(string)
	return id, expect(status, latency, http.StatusCreated)
}

func (r *Runner) createRequest(ctx context.Context, tripID string) (string, Result) {
	status, out, latency, err := r.call(ctx, http.MethodPost, "/api/trips/"+tripID+"/requests", r.cfg.SenderToken, requestBody())
	if err != nil {
		return "", Result{Status: "FAIL", Note: err.Error()}
	}
	id, _ := out["request_id"].(string)
	return id, expect(status, latency, http.StatusCreated)
}

func requestBody() map[string]any {
	return map[string]any{
		"item_description":       "Sealed envelope with documents",
		"category":               "documents",
		"parcel_photos":          []string{"https://example.com/p1.jpg", "https://example.com/p2.jpg"},
		"delivery_contact_name":  "Bench Receiver",
		"delivery_contact_phone": "+919876543210",
	}
}

func expect(status int, latency time.Duration, want int) Result {
	if status == want {
		return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
}

// acceptedRequest builds a trip departing in the given duration with one accepted request on it.
func (r *Runner) acceptedRequest(ctx context.Context, departsIn time.Duration) (string, Result) {
	tripID, res := r.createTripDeparting(ctx, 1, departsIn)
	if res.Status != "PASS" {
		return "", res
	}
	reqID, res := r.createRequest(ctx, tripID)
	if res.Status != "PASS" {
		return "", res
	}
	status, _, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+reqID+"/accept", r.cfg.TravellerToken, nil)
	if err != nil {
		return "", Result{Status: "FAIL", Note: err.Error()}
	}
	return reqID, expect(status, latency, http.StatusOK)
}

func cancelInsideWindow(ctx context.Context, r *Runner) Result {
	reqID, res := r.acceptedRequest(ctx, 3*time.Hour)
	if res.Status != "PASS" {
		return res
	}
	status, out, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+reqID+"/cancel", r.cfg.SenderToken, map[string]any{"reason": "bench"})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if out["kind"] != "CancellationWindowClosed" {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("kind=%v", out["kind"])}
	}
	return expect(status, latency, http.StatusConflict)
}

// verifyRateLimit submits wrong pickup codes until the limiter answers 429.
func verifyRateLimit(ctx context.Context, r *Runner) Result {
	reqID, res := r.acceptedRequest(ctx, 72*time.Hour)
	if res.Status != "PASS" {
		return res
	}
	for i := 0; i < 50; i++ {
		status, _, latency, err := r.call(ctx, http.MethodPost, "/api/requests/"+reqID+"/pickup/verify", r.cfg.TravellerToken, map[string]any{"code": "000000"})
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		switch status {
		case http.StatusTooManyRequests:
			return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("limited after %d attempts", i)}
		case http.StatusUnprocessableEntity:
		default:
			// 000000 can be the real code; anything else is unexpected.
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		}
	}
	return Result{Status: "FAIL", Note: "no 429 after 50 attempts"}
}

// concurrentAccept races accepts for several requests against a single-slot trip.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	tripID, res := r.createTrip(ctx, 1)
	if res.Status != "PASS" {
		return res
	}
	n := r.cfg.Concurrency
	if n > 10 {
		n = 10
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, res := r.createRequest(ctx, tripID)
		if res.Status != "PASS" {
			return res
		}
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succ, conflicts := 0, 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			status, _, _, err := r.call(ctx, http.MethodPost, "/api/requests/"+id+"/accept", r.cfg.TravellerToken, nil)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case http.StatusOK:
				succ++
			case http.StatusConflict:
				conflicts++
			}
		}(id)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflicts=%d", succ, conflicts)
	if succ == 1 && conflicts == n-1 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path, token string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, http.MethodGet, path, token, nil)
				mu.Lock()
				if err != nil || status >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}
