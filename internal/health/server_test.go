package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/txpilot/internal/core/domain"
	"github.com/vietddude/txpilot/internal/lifecycle"
	"github.com/vietddude/txpilot/internal/resilience"
)

func settledRegistry(t *testing.T) (*lifecycle.Registry, string) {
	t.Helper()

	reg := lifecycle.NewRegistry(lifecycle.Config{
		Lookup: func(ctx context.Context, ref string) (domain.RefStatus, error) {
			return domain.RefStatus{
				State:   domain.RefConfirmed,
				Receipt: &domain.Receipt{Ref: ref},
			}, nil
		},
		Confirm: lifecycle.ConfirmOptions{
			PollInterval: 2 * time.Millisecond,
			Timeout:      time.Second,
		},
	})

	id := reg.Submit(context.Background(), func(ctx context.Context) (string, error) {
		return "0xref", nil
	}, resilience.Policy{Name: "test", MaxAttempts: 1, BaseDelay: time.Millisecond}, "test op")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, err := reg.Get(id); err == nil && rec.Status.Terminal() {
			return reg, id
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Operation never settled")
	return nil, ""
}

func testServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	reg, id := settledRegistry(t)
	s := NewServer(reg, nil, nil, 0)
	srv := httptest.NewServer(s.server.Handler)
	t.Cleanup(srv.Close)
	return srv, id
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestHandleList(t *testing.T) {
	srv, id := testServer(t)

	resp, err := http.Get(srv.URL + "/operations?status=confirmed")
	if err != nil {
		t.Fatalf("GET /operations failed: %v", err)
	}
	defer resp.Body.Close()

	var records []domain.OperationRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Errorf("Expected the one confirmed record, got %+v", records)
	}
}

func TestHandleList_BadSince(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/operations?since=yesterday")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad since, got %d", resp.StatusCode)
	}
}

func TestHandleGet(t *testing.T) {
	srv, id := testServer(t)

	resp, err := http.Get(srv.URL + "/operations/" + id)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var rec domain.OperationRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.ID != id || rec.Status != domain.StatusConfirmed {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/operations/unknown-id")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleHistory_NotConfigured(t *testing.T) {
	srv, id := testServer(t)

	resp, err := http.Get(srv.URL + "/operations/" + id + "/history")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without a history source, got %d", resp.StatusCode)
	}
}

type stubArchive struct {
	recs []domain.OperationRecord
}

func (s *stubArchive) ListRecent(ctx context.Context, limit int) ([]domain.OperationRecord, error) {
	if limit > 0 && limit < len(s.recs) {
		return s.recs[:limit], nil
	}
	return s.recs, nil
}

func archiveServer(t *testing.T, archive ArchiveSource) *httptest.Server {
	t.Helper()
	reg, _ := settledRegistry(t)
	s := NewServer(reg, nil, archive, 0)
	srv := httptest.NewServer(s.server.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleArchive(t *testing.T) {
	archive := &stubArchive{recs: []domain.OperationRecord{
		{ID: "a", Status: domain.StatusConfirmed},
		{ID: "b", Status: domain.StatusFailed},
		{ID: "c", Status: domain.StatusConfirmed},
	}}
	srv := archiveServer(t, archive)

	resp, err := http.Get(srv.URL + "/archive?limit=2")
	if err != nil {
		t.Fatalf("GET /archive failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var recs []domain.OperationRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("Expected 2 archived records, got %d", len(recs))
	}
}

func TestHandleArchive_BadLimit(t *testing.T) {
	srv := archiveServer(t, &stubArchive{})

	resp, err := http.Get(srv.URL + "/archive?limit=nope")
	if err != nil {
		t.Fatalf("GET /archive failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", resp.StatusCode)
	}
}

func TestHandleArchive_NotConfigured(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/archive")
	if err != nil {
		t.Fatalf("GET /archive failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without an archive source, got %d", resp.StatusCode)
	}
}
