package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/asrtriage/internal/health"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("response not valid JSON: %v\nbody: %s", err, body)
	}
	return m
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if m := decode(t, rec.Body.String()); m["status"] != "ok" {
		t.Errorf("status field = %v, want ok", m["status"])
	}
}

func TestReadyzAllChecksPass(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "store", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "output", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	m := decode(t, rec.Body.String())
	checks := m["checks"].(map[string]any)
	if checks["store"] != "ok" || checks["output"] != "ok" {
		t.Errorf("checks = %v", checks)
	}
}

func TestReadyzFailingCheck(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "store", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	m := decode(t, rec.Body.String())
	if m["status"] != "fail" {
		t.Errorf("status field = %v, want fail", m["status"])
	}
	checks := m["checks"].(map[string]any)
	if s, _ := checks["store"].(string); !strings.Contains(s, "connection refused") {
		t.Errorf("store check = %v, want failure message", checks["store"])
	}
}

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	health.New().Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
