package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct {
	err error
}

func (p fakePinger) HealthCheck(ctx context.Context) error { return p.err }

func TestHealth_AllHealthyReturns200(t *testing.T) {
	deps := HealthDeps{
		StartedAt:   time.Now().Add(-time.Minute),
		Environment: "test",
		Vector:      fakePinger{},
		LLM:         fakePinger{},
		Sessions:    fakePinger{},
	}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	Health(deps)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHealth_OneDependencyDownReturns503(t *testing.T) {
	deps := HealthDeps{
		StartedAt: time.Now(),
		Vector:    fakePinger{err: errors.New("connection refused")},
		LLM:       fakePinger{},
		Sessions:  fakePinger{},
	}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	Health(deps)(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status field = %v, want degraded", body["status"])
	}
	services, ok := body["services"].(map[string]any)
	if !ok {
		t.Fatalf("services field missing or wrong type: %+v", body["services"])
	}
	vector, ok := services["vector"].(map[string]any)
	if !ok || vector["healthy"] != false {
		t.Errorf("expected vector service reported unhealthy, got %+v", services["vector"])
	}
}

func TestHealth_NilDependencyIsSkipped(t *testing.T) {
	deps := HealthDeps{StartedAt: time.Now()}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	Health(deps)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no dependencies are configured", w.Code)
	}
}
