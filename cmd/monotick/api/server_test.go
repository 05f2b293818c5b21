package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.sazak.io/monotick/cmd/monotick/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Session) {
	t.Helper()

	manager, err := storage.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session := &storage.Session{
		ID:        "test-session",
		StartTime: time.Now(),
		Strategy:  "posix_monotonic",
		Interval:  "100µs",
	}
	store, err := manager.CreateSession(context.Background(), session, "jsonl")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	err = store.WriteBatch([]*storage.Sample{
		{Timestamp: 1_000, Seq: 0, Worker: 0},
		{Timestamp: 1_200, DeltaUs: 200, Seq: 1, Worker: 0},
		{Timestamp: 1_500, Seq: 0, Worker: 2},
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	store.Close()

	return NewServer(manager, 0, []float64{0.5, 0.99}), session
}

func (s *Server) serve(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestListSessions(t *testing.T) {
	server, session := newTestServer(t)

	rec := server.serve(t, http.MethodGet, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var sessions []*storage.Session
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != session.ID {
		t.Errorf("got %d sessions", len(sessions))
	}
}

func TestGetSession(t *testing.T) {
	server, session := newTestServer(t)

	rec := server.serve(t, http.MethodGet, "/api/sessions/"+session.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var got storage.Session
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Strategy != "posix_monotonic" {
		t.Errorf("strategy %q", got.Strategy)
	}

	rec = server.serve(t, http.MethodGet, "/api/sessions/no-such-session")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session: status %d, want 404", rec.Code)
	}
}

func TestGetSamples(t *testing.T) {
	server, session := newTestServer(t)

	rec := server.serve(t, http.MethodGet, "/api/sessions/"+session.ID+"/samples?worker=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var samples []*storage.Sample
	if err := json.NewDecoder(rec.Body).Decode(&samples); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 2 {
		t.Errorf("worker=0: got %d samples, want 2", len(samples))
	}

	rec = server.serve(t, http.MethodGet, "/api/sessions/"+session.ID+"/samples?min_delta=100&limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	samples = nil
	if err := json.NewDecoder(rec.Body).Decode(&samples); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 1 || samples[0].DeltaUs != 200 {
		t.Errorf("min_delta filter returned %d samples", len(samples))
	}
}

func TestGetWorkers(t *testing.T) {
	server, session := newTestServer(t)

	rec := server.serve(t, http.MethodGet, "/api/sessions/"+session.ID+"/workers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var workers []uint32
	if err := json.NewDecoder(rec.Body).Decode(&workers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(workers) != 2 {
		t.Errorf("got %d workers, want 2", len(workers))
	}
}

func TestMetricsSnapshot(t *testing.T) {
	server, _ := newTestServer(t)

	server.UpdateMetrics(&Metrics{SPS: 1000, RES: 1, BWD: 0})

	rec := server.serve(t, http.MethodGet, "/api/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var metrics Metrics
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if metrics.SPS != 1000 {
		t.Errorf("SPS = %f", metrics.SPS)
	}
}

func TestPrometheusExposition(t *testing.T) {
	server, _ := newTestServer(t)

	server.ObserveBatch([]*storage.Sample{
		{Timestamp: 1_000, DeltaUs: 100, LatencyNs: 40},
		{Timestamp: 0, Flags: storage.FlagUnavailable},
		{Timestamp: 900, Flags: storage.FlagBackward},
	})

	rec := server.serve(t, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	body := rec.Body.String()
	for _, metric := range []string{
		"monotick_samples_total 3",
		"monotick_backward_steps_total 1",
		"monotick_unavailable_reads_total 1",
	} {
		if !contains(body, metric) {
			t.Errorf("exposition missing %q", metric)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t)

	rec := server.serve(t, http.MethodOptions, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

// Helper function
func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
