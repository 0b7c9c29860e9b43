//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/calldesk/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	rec := domain.CallRecord{ID: "r1", PhoneNumber: "+15551234567", Outcome: domain.OutcomeCompleted, Duration: 42}

	JSON(w, http.StatusCreated, rec)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got domain.CallRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != "r1" || got.Outcome != domain.OutcomeCompleted || got.Duration != 42 {
		t.Errorf("Round-tripped record = %+v", got)
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusConflict, "busy")

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "busy" {
		t.Errorf("Expected error=busy, got %v", got["error"])
	}
}

func TestDecode(t *testing.T) {
	var body struct {
		Notes string `json:"notes"`
	}
	r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"notes":"x"}`))
	if err := decode(r, &body); err != nil || body.Notes != "x" {
		t.Fatalf("decode() = %v, %+v", err, body)
	}

	r = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(""))
	if err := decode(r, &body); err != nil {
		t.Fatalf("decode(empty) error = %v", err)
	}

	r = httptest.NewRequest(http.MethodPut, "/", strings.NewReader("{"))
	if err := decode(r, &body); err == nil {
		t.Fatal("decode(malformed) succeeded")
	}
}
