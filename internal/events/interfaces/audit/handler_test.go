package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	events "piam-analytics/internal/events/domain"
)

type stubScanner struct {
	events   []events.AccessEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
}

func (s *stubScanner) ScanRange(ctx context.Context, tenantID string, from, to time.Time) ([]events.AccessEvent, error) {
	s.lastFrom = from
	s.lastTo = to
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func TestAuditHandlerScansRange(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	scanner := &stubScanner{events: []events.AccessEvent{
		{
			EventID:    "e1",
			TenantID:   "acme",
			EventTime:  at,
			BadgeID:    "b1",
			SiteID:     "hq",
			LocationID: "door-a",
			Result:     events.ResultDeny,
			DenyReason: "badge expired",
		},
	}}
	handler := NewHandler(scanner, nil)

	url := "/api/v1/events?tenant=acme&from=2026-08-24T09:00:00Z&to=2026-08-24T10:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusOK)
	}
	var out struct {
		TenantID string        `json:"tenant_id"`
		Events   []eventRecord `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(out.Events))
	}
	got := out.Events[0]
	if got.EventID != "e1" || got.Result != "deny" || got.DenyReason != "badge expired" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.EventTime != "2026-08-24T09:30:00Z" {
		t.Fatalf("event_time = %q", got.EventTime)
	}
	if want := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC); !scanner.lastFrom.Equal(want) {
		t.Fatalf("from = %s, want %s", scanner.lastFrom, want)
	}
}

func TestAuditHandlerCapsWindow(t *testing.T) {
	scanner := &stubScanner{}
	handler := NewHandler(scanner, nil)

	url := "/api/v1/events?tenant=acme&from=2026-08-01T00:00:00Z&to=2026-08-24T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusOK)
	}
	if got := scanner.lastTo.Sub(scanner.lastFrom); got != maxScanWindow {
		t.Fatalf("window = %s, want %s", got, maxScanWindow)
	}
}

func TestAuditHandlerRejectsInvertedRange(t *testing.T) {
	handler := NewHandler(&stubScanner{}, nil)

	url := "/api/v1/events?tenant=acme&from=2026-08-24T10:00:00Z&to=2026-08-24T09:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusBadRequest)
	}
}

func TestAuditHandlerRequiresTenant(t *testing.T) {
	handler := NewHandler(&stubScanner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusBadRequest)
	}
}

func TestAuditHandlerScanFailure(t *testing.T) {
	handler := NewHandler(&stubScanner{err: errors.New("db down")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?tenant=acme", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusInternalServerError)
	}
}
