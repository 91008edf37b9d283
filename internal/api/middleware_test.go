package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func authedHandler(t *testing.T, secret string) (http.Handler, *bool) {
	t.Helper()
	reached := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	return BearerAuth(secret, zap.NewNop())(inner), &reached
}

func TestBearerAuthEmptySecretPassesThrough(t *testing.T) {
	h, reached := authedHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !*reached {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}

func TestBearerAuthValidToken(t *testing.T) {
	h, reached := authedHandler(t, "topsecret")

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !*reached {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBearerAuthMissingHeader(t *testing.T) {
	h, reached := authedHandler(t, "topsecret")

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if *reached {
		t.Error("handler should not run without a token")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %s", ct)
	}
}

func TestBearerAuthWrongToken(t *testing.T) {
	h, reached := authedHandler(t, "topsecret")

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler", nil)
	req.Header.Set("Authorization", "Bearer guess")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized || *reached {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuthRejectsNonBearerScheme(t *testing.T) {
	h, _ := authedHandler(t, "topsecret")

	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler", nil)
	req.Header.Set("Authorization", "Basic topsecret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewareNilLimiter(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimitMiddleware(nil, zap.NewNop(), IPKeyFunc)(inner)

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through with nil limiter, got %d", rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded header wins", "203.0.113.7", "10.0.0.1", "127.0.0.1:1234", "ip:203.0.113.7"},
		{"real ip fallback", "", "10.0.0.1", "127.0.0.1:1234", "ip:10.0.0.1"},
		{"remote addr last", "", "", "127.0.0.1:1234", "ip:127.0.0.1:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := IPKeyFunc(req); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
