package healthsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealthAllUp(t *testing.T) {
	s := NewServer(":0", "test")
	s.RegisterCheck("binance", func() (Status, string) { return StatusUp, "" })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusUp {
		t.Fatalf("overall status = %q, want up", resp.Status)
	}
}

func TestHandleHealthOneDown(t *testing.T) {
	s := NewServer(":0", "test")
	s.RegisterCheck("binance", func() (Status, string) { return StatusUp, "" })
	s.RegisterCheck("okx", func() (Status, string) { return StatusDown, "reconnecting" })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleLiveAlwaysOK(t *testing.T) {
	s := NewServer(":0", "test")
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	s.handleLive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleReadyReflectsChecks(t *testing.T) {
	s := NewServer(":0", "test")
	s.RegisterCheck("bybit", func() (Status, string) { return StatusDown, "init" })

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
