package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"gridclash/internal/match"
	"gridclash/internal/outcome"
	"gridclash/internal/telemetry"
)

type fixedStatus match.Status

func (s fixedStatus) Status() match.Status { return match.Status(s) }

func serve(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestRouterServesHealthAndMatchStatus(t *testing.T) {
	status := fixedStatus{
		MatchID: "m-7",
		Tick:    42,
		Started: true,
		Outcome: outcome.Outcome{WinnerID: "a", LoserID: "b", Committed: true},
	}
	router := NewRouter(RouterConfig{Status: status, Mode: gin.TestMode})

	resp := serve(t, router, "/healthz")
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}

	resp = serve(t, router, "/match")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	var decoded match.Status
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode match status: %v", err)
	}
	if decoded.MatchID != "m-7" || decoded.Tick != 42 || !decoded.Outcome.Committed || decoded.Outcome.WinnerID != "a" {
		t.Fatalf("unexpected match status %+v", decoded)
	}
}

func TestRouterWithoutMatchIsUnavailable(t *testing.T) {
	router := NewRouter(RouterConfig{Mode: gin.TestMode})
	if resp := serve(t, router, "/match"); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a match, got %d", resp.Code)
	}
	if resp := serve(t, router, "/ws"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected /ws to be absent without a handler, got %d", resp.Code)
	}
}

func TestRouterDiagnosticsIncludesCounters(t *testing.T) {
	counters := telemetry.NewCounters()
	counters.Add("pool_exhausted_total", 3)
	router := NewRouter(RouterConfig{Counters: counters, TickRate: 30, Mode: gin.TestMode})

	resp := serve(t, router, "/diagnostics")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	var payload struct {
		Status    string            `json:"status"`
		TickRate  int               `json:"tickRate"`
		Telemetry map[string]uint64 `json:"telemetry"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics: %v", err)
	}
	if payload.Status != "ok" || payload.TickRate != 30 || payload.Telemetry["pool_exhausted_total"] != 3 {
		t.Fatalf("unexpected diagnostics %+v", payload)
	}
}

func TestRouterServesProtocolSchema(t *testing.T) {
	router := NewRouter(RouterConfig{Mode: gin.TestMode})
	resp := serve(t, router, "/protocol/schema")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode schema: %v", err)
	}
	if doc["title"] != "gridclash wire protocol" {
		t.Fatalf("unexpected schema title %v", doc["title"])
	}
}
