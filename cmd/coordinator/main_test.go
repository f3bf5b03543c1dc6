package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/vortex/internal/coordinator"
	"github.com/dreamware/vortex/internal/factstore"
	"github.com/dreamware/vortex/internal/syncstore"
)

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()

	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(nowhereWriter{})

	facts, err := factstore.Open(factstore.Config{Logger: log})
	if err != nil {
		t.Fatalf("factstore.Open: %v", err)
	}
	t.Cleanup(func() { facts.Close() })

	store := syncstore.NewMemory()
	coord := coordinator.New(facts, store, coordinator.Config{Logger: log})
	coord.Start(t.Context())
	t.Cleanup(coord.Stop)

	srv := newServer(coord, store, facts, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/peers", srv.handleRegisterPeer)
	mux.HandleFunc("/peers/pulse", srv.handleDeletePulse)
	mux.HandleFunc("/jobs", srv.handlePlanJob)
	mux.HandleFunc("/ack", srv.handleAck)
	mux.HandleFunc("/complete", srv.handleComplete)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

type nowhereWriter struct{}

func (nowhereWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleRegisterPeerReturnsPaths(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/peers", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /peers: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"peer", "pulse", "shutdown"} {
		if body[key] == "" {
			t.Errorf("expected non-empty %q in response, got %+v", key, body)
		}
	}
}

func TestHandlePlanJobReturnsJobID(t *testing.T) {
	_, ts := newTestServer(t)

	planReq := map[string]interface{}{
		"catalog": []map[string]string{
			{"onyx/name": "in", "onyx/type": "queue", "onyx/direction": "input"},
			{"onyx/name": "out", "onyx/type": "queue", "onyx/direction": "output"},
		},
		"workflow": map[string]map[string]struct{}{
			"in": {"out": {}},
		},
	}
	body, _ := json.Marshal(planReq)
	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["job_id"] == "" {
		t.Error("expected a non-empty job_id")
	}
}

func TestHandleDeletePulseRequiresPath(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/peers/pulse", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /peers/pulse: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d for missing path query param", resp.StatusCode, http.StatusBadRequest)
	}
}

// Ack only enqueues onto ack-ch and returns before the path is resolved, so
// an unknown path is still accepted on the wire; the rejection surfaces
// later as a FailureAck event, not as an HTTP error.
func TestHandleAckAcceptsUnknownPathAsynchronously(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/ack?path=/ack/bogus", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /ack: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d (Ack only enqueues)", resp.StatusCode, http.StatusNoContent)
	}
}

func TestHealthEndpoint(t *testing.T) {
	newTestServer(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
