package restapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"fluxhub/internal/registry"
	"fluxhub/internal/session"
	"fluxhub/internal/transport"
)

func TestHealthAndState(t *testing.T) {
	reg := registry.New()
	sessions := session.NewTable()
	s := New(reg, sessions, []transport.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() == "" {
		t.Fatal("expected non-empty state body")
	}
}
