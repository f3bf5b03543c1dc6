package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/vortex/internal/cluster"
	"github.com/dreamware/vortex/internal/task"
)

func TestRegisterRetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(registration{Peer: "/peer/1", Pulse: "/pulse/1", Shutdown: "/shutdown/1"})
	}))
	defer srv.Close()

	reg := register(context.Background(), srv.URL)
	if reg.Peer != "/peer/1" {
		t.Errorf("Peer = %q, want /peer/1", reg.Peer)
	}
	if calls < 2 {
		t.Errorf("expected at least 2 registration attempts, got %d", calls)
	}
}

func TestPollPayloadNoAssignmentYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An unset payload pointer: the registration record carries no
		// "payload" field, so no second hop should ever be made.
		_ = json.NewEncoder(w).Encode(peerRecord{Pulse: "/pulse/1", Shutdown: "/shutdown/1"})
	}))
	defer srv.Close()

	_, ok, err := pollPayload(context.Background(), srv.URL, "/peer/1")
	if err != nil {
		t.Fatalf("pollPayload: %v", err)
	}
	if ok {
		t.Error("expected ok=false when no payload pointer has been set yet")
	}
}

func TestPollPayloadFollowsPointerToAssignment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("path") {
		case "/peer/1":
			_ = json.NewEncoder(w).Encode(peerRecord{Pulse: "/pulse/1", Payload: "/payload/1"})
		case "/payload/1":
			_ = json.NewEncoder(w).Encode(cluster.Assignment{
				Task:  task.Task{Name: "inc"},
				Nodes: cluster.AssignmentNodes{Ack: "/ack/1", Completion: "/completion/1"},
			})
		default:
			t.Errorf("unexpected path %q", r.URL.Query().Get("path"))
		}
	}))
	defer srv.Close()

	assignment, ok, err := pollPayload(context.Background(), srv.URL, "/peer/1")
	if err != nil {
		t.Fatalf("pollPayload: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true once the pointer resolves to a named task")
	}
	if assignment.Task.Name != "inc" {
		t.Errorf("Task.Name = %q, want inc", assignment.Task.Name)
	}
}

func TestPollPayloadPointerToEmptyTaskNameIsNotAnOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("path") {
		case "/peer/1":
			_ = json.NewEncoder(w).Encode(peerRecord{Payload: "/payload/1"})
		case "/payload/1":
			// A fully formed Assignment envelope with a zero-value
			// Task.Name still isn't a real offer.
			_ = json.NewEncoder(w).Encode(cluster.Assignment{
				Nodes: cluster.AssignmentNodes{Ack: "/ack/1", Completion: "/completion/1"},
			})
		}
	}))
	defer srv.Close()

	_, ok, err := pollPayload(context.Background(), srv.URL, "/peer/1")
	if err != nil {
		t.Fatalf("pollPayload: %v", err)
	}
	if ok {
		t.Error("expected ok=false for an assignment with an empty task name")
	}
}

func TestDeletePulse(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Query().Get("path")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := deletePulse(ctx, srv.URL, "/pulse/1"); err != nil {
		t.Fatalf("deletePulse: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
	if gotPath != "/pulse/1" {
		t.Errorf("path = %q, want /pulse/1", gotPath)
	}
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("PEER_TEST_DURATION", "50ms")
	if got := getenvDuration("PEER_TEST_DURATION", time.Second); got != 50*time.Millisecond {
		t.Errorf("getenvDuration = %v, want 50ms", got)
	}
	if got := getenvDuration("PEER_TEST_DURATION_UNSET", time.Second); got != time.Second {
		t.Errorf("getenvDuration default = %v, want 1s", got)
	}
}
