package adminhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"banchod/internal/logging"
	"banchod/internal/metrics"
)

func TestHealthzReturnsOK(t *testing.T) {
	srv := New(":0", nil, logging.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok\n" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "ok\n")
	}
}

func TestMetricsServedWhenRegistrySet(t *testing.T) {
	reg := metrics.NewRegistry()
	srv := New(":0", reg, logging.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMetricsAbsentWithoutRegistry(t *testing.T) {
	srv := New(":0", nil, logging.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatalf("expected /metrics to be unregistered without a Registry, got %d", rec.Code)
	}
}
