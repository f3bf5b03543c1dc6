// Package main implements the Vortex peer process: the worker side of the
// Cluster Coordinator's peer lifecycle. A peer registers itself, then polls
// its own payload node until offered a task, acks, runs the (opaque,
// business-logic-free) task, and reports completion.
//
// Architecture:
//
//	┌────────────────────────────────────┐
//	│                Peer                │
//	├────────────────────────────────────┤
//	│  register  -> peer/pulse/shutdown  │
//	│  poll payload -> ack -> complete   │
//	│  on SIGTERM -> delete pulse        │
//	└────────────────────────────────────┘
//
// Configuration:
//   - VORTEX_COORDINATOR_ADDR: coordinator base URL (required)
//   - VORTEX_PEER_POLL_INTERVAL: payload poll cadence (default 200ms)
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/vortex/internal/cluster"
)

// logFatal is a variable so tests can intercept fatal errors without
// terminating the process, matching the teacher's own indirection.
var logFatal = log.Fatalf

type registration struct {
	Peer     string `json:"peer"`
	Pulse    string `json:"pulse"`
	Shutdown string `json:"shutdown"`
}

// peerRecord is what the coordinator writes back to a peer's own
// registration path: the payload pointer it updates on every offer and
// clears on every completion.
type peerRecord struct {
	Pulse    string `json:"pulse"`
	Shutdown string `json:"shutdown"`
	Payload  string `json:"payload,omitempty"`
}

func main() {
	var coordAddr string
	var pollInterval time.Duration

	root := &cobra.Command{
		Use:   "vortex-peer",
		Short: "Runs a Vortex peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if coordAddr == "" {
				return fmt.Errorf("--coordinator is required")
			}
			return run(coordAddr, pollInterval)
		},
	}
	root.Flags().StringVar(&coordAddr, "coordinator", getenv("VORTEX_COORDINATOR_ADDR", ""), "coordinator base URL")
	root.Flags().DurationVar(&pollInterval, "poll-interval", getenvDuration("VORTEX_PEER_POLL_INTERVAL", 200*time.Millisecond), "payload poll cadence")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(coordAddr string, pollInterval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := register(ctx, coordAddr)
	log.Printf("registered: peer=%s pulse=%s", reg.Peer, reg.Pulse)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Printf("shutting down, deleting pulse %s", reg.Pulse)
		if err := deletePulse(context.Background(), coordAddr, reg.Pulse); err != nil {
			log.Printf("delete pulse: %v", err)
		}
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		assignment, ok, err := pollPayload(ctx, coordAddr, reg.Peer)
		if err != nil {
			log.Printf("poll payload: %v", err)
			sleep(ctx, pollInterval)
			continue
		}
		if !ok {
			sleep(ctx, pollInterval)
			continue
		}

		log.Printf("offered task %s (job %s)", assignment.Task.Name, assignment.Task.JobID)
		if err := cluster.PostJSON(ctx, coordAddr+"/ack?path="+url.QueryEscape(assignment.Nodes.Ack), nil, nil); err != nil {
			log.Printf("ack failed: %v", err)
			continue
		}

		// Task execution is opaque to the coordination core — the peer's
		// own business logic would run here. There is none to run in this
		// binary; completion follows immediately.
		if err := cluster.PostJSON(ctx, coordAddr+"/complete?path="+url.QueryEscape(assignment.Nodes.Completion), nil, nil); err != nil {
			log.Printf("complete failed: %v", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// register retries with backoff, matching the teacher's register loop —
// a peer cannot operate without a coordinator to answer offers.
func register(ctx context.Context, coordAddr string) registration {
	var lastErr error
	var reg registration
	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, coordAddr+"/peers", nil, &reg)
		if lastErr == nil {
			return reg
		}
		log.Printf("register retry %d: %v", i+1, lastErr)
		time.Sleep(400 * time.Millisecond)
	}
	logFatal("failed to register with coordinator: %v", lastErr)
	return reg
}

// pollPayload follows the same two-step indirection the coordinator writes:
// a peer's registration path holds a "payload" pointer that changes on every
// offer, and the actual task descriptor lives at whatever path that pointer
// currently names.
func pollPayload(ctx context.Context, coordAddr, peerPath string) (cluster.Assignment, bool, error) {
	var rec peerRecord
	if err := cluster.GetJSON(ctx, coordAddr+"/peers/payload?path="+url.QueryEscape(peerPath), &rec); err != nil {
		return cluster.Assignment{}, false, err
	}
	if rec.Payload == "" {
		return cluster.Assignment{}, false, nil
	}

	var assignment cluster.Assignment
	if err := cluster.GetJSON(ctx, coordAddr+"/peers/payload?path="+url.QueryEscape(rec.Payload), &assignment); err != nil {
		return cluster.Assignment{}, false, err
	}
	if assignment.Task.Name == "" {
		return assignment, false, nil
	}
	return assignment, true, nil
}

func deletePulse(ctx context.Context, coordAddr, pulsePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, coordAddr+"/peers/pulse?path="+url.QueryEscape(pulsePath), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
