package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"listings": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("listings")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"listings":   {RatePerSecond: 1, Burst: 1},
		"settlement": {RatePerSecond: 1, Burst: 1},
	}, nil)
	listings := limiter.Middleware("listings")(okHandler())
	settlement := limiter.Middleware("settlement")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	listings.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected listings request to succeed, got %d", res.Code)
	}

	buyReq := httptest.NewRequest(http.MethodPost, "/v1/listings/abc/purchase", nil)
	buyReq.Header.Set("X-API-Key", "tenant-A")
	buyRes := httptest.NewRecorder()
	settlement.ServeHTTP(buyRes, buyReq)
	if buyRes.Code != http.StatusOK {
		t.Fatalf("expected first settlement request to succeed, got %d", buyRes.Code)
	}

	buyRes = httptest.NewRecorder()
	settlement.ServeHTTP(buyRes, buyReq)
	if buyRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second settlement request to hit limit, got %d", buyRes.Code)
	}
}

func TestRateLimiterAppliesRouteTokens(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"listings": {
			RatePerSecond: 5,
			Burst:         5,
			DefaultTokens: 1,
			Tokens: map[string]int{
				"POST /v1/listings": 3,
			},
		},
	}, nil)
	handler := limiter.Middleware("listings")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/listings", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first create request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second create request to be rate limited, got %d", res.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	getRes := httptest.NewRecorder()
	handler.ServeHTTP(getRes, getReq)
	if getRes.Code != http.StatusOK {
		t.Fatalf("expected read to succeed with default token cost, got %d", getRes.Code)
	}
}

func TestRateLimiterKeysByPrincipal(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"listings": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("listings")(okHandler())

	for i, fill := range []byte{0x01, 0x02} {
		var principal [20]byte
		principal[0] = fill
		req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
		req = req.WithContext(WithPrincipal(req.Context(), principal))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("principal %d should have its own bucket, got %d", i, res.Code)
		}
	}
}

func TestRateLimiterForgetsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"listings": {RatePerSecond: 0.001, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("listings")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	now = now.Add(10 * time.Minute)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("idle visitor should start with a fresh bucket, got %d", res.Code)
	}
}
