package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	events "piam-analytics/internal/events/domain"
)

type captureAppender struct {
	appended []events.AccessEvent
	err      error
}

func (a *captureAppender) Append(_ context.Context, batch []events.AccessEvent) error {
	if a.err != nil {
		return a.err
	}
	a.appended = append(a.appended, batch...)
	return nil
}

func newTestHandler(t *testing.T, store events.Appender) *Handler {
	t.Helper()
	handler, err := NewHandler(store, log.Default())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func postEvents(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ingest/pacs/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestAcceptsAndRejects(t *testing.T) {
	store := &captureAppender{}
	handler := newTestHandler(t, store)

	body := `{"events":[
		{"event_id":"e1","tenant_id":"tenant-a","location_id":"door-1","event_time":1756036800000,"result":"grant","badge_id":"b1"},
		{"event_id":"e2","tenant_id":"tenant-a","location_id":"door-1","event_time":1756036801,"result":"deny","deny_reason":"expired"},
		{"event_id":"bad","tenant_id":"","location_id":"door-1","event_time":1756036800000,"result":"grant"}
	]}`
	rec := postEvents(handler, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["accepted"] != 2 || resp["rejected"] != 1 {
		t.Fatalf("accepted/rejected = %d/%d, want 2/1", resp["accepted"], resp["rejected"])
	}
	if len(store.appended) != 2 {
		t.Fatalf("appended %d events, want 2", len(store.appended))
	}

	// Millisecond and second epochs decode to the same instant.
	want := time.UnixMilli(1756036800000).UTC()
	if !store.appended[0].EventTime.Equal(want) {
		t.Fatalf("ms event time = %s, want %s", store.appended[0].EventTime, want)
	}
	if !store.appended[1].EventTime.Equal(time.Unix(1756036801, 0).UTC()) {
		t.Fatalf("sec event time = %s", store.appended[1].EventTime)
	}
}

func TestIngestAcceptsBareArray(t *testing.T) {
	store := &captureAppender{}
	handler := newTestHandler(t, store)

	body := `[{"event_id":"e1","tenant_id":"tenant-a","location_id":"door-1","event_time":1756036800000,"result":"deny"}]`
	rec := postEvents(handler, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.appended) != 1 {
		t.Fatalf("appended %d events, want 1", len(store.appended))
	}
}

func TestIngestAssignsEventID(t *testing.T) {
	store := &captureAppender{}
	handler := newTestHandler(t, store)

	body := `[{"tenant_id":"tenant-a","location_id":"door-1","event_time":1756036800000,"result":"grant"}]`
	rec := postEvents(handler, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.appended) != 1 || store.appended[0].EventID == "" {
		t.Fatal("missing event id should be assigned at ingest")
	}
}

func TestIngestRejectsInvalidJSON(t *testing.T) {
	handler := newTestHandler(t, &captureAppender{})
	rec := postEvents(handler, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	handler := newTestHandler(t, &captureAppender{})
	rec := postEvents(handler, `{"events":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIngestStoreFailure(t *testing.T) {
	handler := newTestHandler(t, &captureAppender{err: errors.New("db down")})
	body := `[{"event_id":"e1","tenant_id":"tenant-a","location_id":"door-1","event_time":1756036800000,"result":"grant"}]`
	rec := postEvents(handler, body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, &captureAppender{})
	req := httptest.NewRequest(http.MethodGet, "/ingest/pacs/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
