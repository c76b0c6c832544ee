package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(t *testing.T, wantUser string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantUser != "" {
			id, ok := identityFrom(r.Context())
			if !ok || id.UserID != wantUser {
				t.Errorf("identity = %+v, want user %q", id, wantUser)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoTokensConfigured(t *testing.T) {
	s := &Server{}
	handler := s.authMiddleware(okHandler(t, "guest"))

	req := httptest.NewRequest(http.MethodGet, "/v1/round", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when no tokens configured, got %d", rr.Code)
	}
}

func TestAuthMiddleware_NoTokensUserHeader(t *testing.T) {
	s := &Server{}
	handler := s.authMiddleware(okHandler(t, "carol"))

	req := httptest.NewRequest(http.MethodGet, "/v1/round", nil)
	req.Header.Set("X-User-ID", "carol")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAuthMiddleware_HealthBypass(t *testing.T) {
	s := &Server{tokens: StaticTokens{"secret123": "alice"}}
	handler := s.authMiddleware(okHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health without auth, got %d", rr.Code)
	}
}

func TestAuthMiddleware_RegisterBypass(t *testing.T) {
	s := &Server{tokens: StaticTokens{"secret123": "alice"}}
	handler := s.authMiddleware(okHandler(t, ""))

	req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected registration to skip auth, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	s := &Server{tokens: StaticTokens{"secret123": "alice"}}
	handler := s.authMiddleware(okHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/v1/price", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	s := &Server{tokens: StaticTokens{"secret123": "alice"}}
	handler := s.authMiddleware(okHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/v1/price", nil)
	req.Header.Set("Authorization", "Bearer wrong_key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_CorrectToken(t *testing.T) {
	s := &Server{tokens: StaticTokens{"secret123": "alice"}}
	handler := s.authMiddleware(okHandler(t, "alice"))

	req := httptest.NewRequest(http.MethodGet, "/v1/price", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MalformedBearer(t *testing.T) {
	s := &Server{tokens: StaticTokens{"secret123": "alice"}}
	handler := s.authMiddleware(okHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/v1/price", nil)
	req.Header.Set("Authorization", "Basic secret123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-Bearer auth, got %d", rr.Code)
	}
}

func TestChainResolver_FirstMatchWins(t *testing.T) {
	chain := chainResolver{StaticTokens{"a": "alice"}, StaticTokens{"a": "mallory", "b": "bob"}}

	id, err := chain.Resolve(context.Background(), "a")
	if err != nil || id == nil || id.UserID != "alice" {
		t.Fatalf("token a: %+v %v", id, err)
	}
	id, _ = chain.Resolve(context.Background(), "b")
	if id == nil || id.UserID != "bob" {
		t.Fatalf("token b: %+v", id)
	}
	if id, _ := chain.Resolve(context.Background(), "zzz"); id != nil {
		t.Fatalf("unknown token resolved to %+v", id)
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query    string
		deflt    int
		expected int
	}{
		{"", 100, 100},
		{"?limit=50", 100, 50},
		{"?limit=0", 100, 100},
		{"?limit=-5", 100, 100},
		{"?limit=abc", 100, 100},
		{"?limit=2000", 100, maxQueryLimit},
		{"?limit=1000", 100, 1000},
		{"?limit=1", 50, 1},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/test"+tc.query, nil)
		got := parseLimit(req, tc.deflt)
		if got != tc.expected {
			t.Fatalf("parseLimit(%q, %d) = %d, want %d", tc.query, tc.deflt, got, tc.expected)
		}
	}
}

func TestCorsMiddleware_Headers(t *testing.T) {
	handler := corsMiddleware(okHandler(t, ""), "https://myapp.example.com")

	req := httptest.NewRequest(http.MethodGet, "/v1/price", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	origin := rr.Header().Get("Access-Control-Allow-Origin")
	if origin != "https://myapp.example.com" {
		t.Fatalf("expected custom origin, got %q", origin)
	}

	allow := rr.Header().Get("Access-Control-Allow-Headers")
	if allow == "" {
		t.Fatal("expected Allow-Headers to include Authorization")
	}
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called for OPTIONS")
	})
	handler := corsMiddleware(inner, "*")

	req := httptest.NewRequest(http.MethodOptions, "/v1/price", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
}
