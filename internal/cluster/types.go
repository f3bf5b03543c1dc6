package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/vortex/internal/task"
)

// PeerRef addresses a peer process by its opaque sync-store path and its
// reachable network address.
type PeerRef struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Registration is the value a peer process writes to its own sync-store
// peer path at startup (spec.md §6's "peer registration" wire contract),
// telling the coordinator where to find this peer's pulse, shutdown, and
// (optionally, pre-allocated) payload nodes.
type Registration struct {
	Pulse    string `json:"pulse"`
	Shutdown string `json:"shutdown"`
	Payload  string `json:"payload,omitempty"`
}

// Assignment is the value the coordinator writes to a peer's payload path
// after a successful offer. Field names and nesting mirror spec.md §6's
// payload-node contract verbatim, including bundling the catalog and
// workflow under "nodes" alongside the actual node paths.
type Assignment struct {
	Task  task.Task      `json:"task"`
	Nodes AssignmentNodes `json:"nodes"`
}

// AssignmentNodes is the "nodes" field of an Assignment.
type AssignmentNodes struct {
	Payload    string          `json:"payload"`
	Ack        string          `json:"ack"`
	Completion string          `json:"completion"`
	Status     string          `json:"status"`
	Catalog    []task.CatalogEntry `json:"catalog"`
	Workflow   task.Workflow       `json:"workflow"`
	Peer       string          `json:"peer"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
