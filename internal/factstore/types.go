package factstore

import (
	"errors"

	"github.com/dreamware/vortex/internal/task"
)

var (
	// ErrDuplicatePeer is returned by MarkPeerBorn for a peer path already on file.
	ErrDuplicatePeer = errors.New("factstore: peer already born")
	// ErrPeerNotFound is returned when an operation names a peer with no live fact.
	ErrPeerNotFound = errors.New("factstore: no such peer")
	// ErrJobNotFound is returned when an operation names a job with no fact on file.
	ErrJobNotFound = errors.New("factstore: no such job")
	// ErrTaskNotFound is returned when an operation names a task with no fact on file.
	ErrTaskNotFound = errors.New("factstore: no such task")
	// ErrInvalidAck is returned when an ack path doesn't name a peer currently
	// in the acking state — a duplicate or stale ack.
	ErrInvalidAck = errors.New("factstore: invalid ack")
	// ErrInvalidComplete is returned when a completion path doesn't name a
	// peer currently active on an incomplete task.
	ErrInvalidComplete = errors.New("factstore: invalid completion")
)

// PeerStatus is a peer's position in the idle -> acking -> active -> idle
// cycle (spec.md §2's peer state machine). A peer with no fact at all is
// "dead" — death is retraction, not a fourth status value.
type PeerStatus string

const (
	StatusIdle   PeerStatus = "idle"
	StatusAcking PeerStatus = "acking"
	StatusActive PeerStatus = "active"
)

// PeerNodes is the set of sync-store paths a peer was handed on offer: where
// to read its task payload, where to write its ack, its per-offer status
// node, and where to write its completion. Cleared (retracted) when the
// peer completes its task — per the resolved Open Question in SPEC_FULL.md,
// a completing peer's node-paths don't linger as stale facts.
type PeerNodes struct {
	Payload    string `json:"payload,omitempty"`
	Ack        string `json:"ack,omitempty"`
	Status     string `json:"status,omitempty"`
	Completion string `json:"completion,omitempty"`
}

// PeerFact is the fact store's durable record of one peer.
type PeerFact struct {
	Path       string     `json:"path"`
	Status     PeerStatus `json:"status"`
	TaskID     string     `json:"task_id,omitempty"`
	Nodes      PeerNodes  `json:"nodes"`
	Retracted  bool       `json:"retracted,omitempty"`
}

// JobFact is the fact store's durable record of one planned job.
type JobFact struct {
	ID       string             `json:"id"`
	Catalog  []task.CatalogEntry `json:"catalog"`
	Workflow task.Workflow       `json:"workflow"`
}

// Snapshot is a point-in-time, deep-copied view returned by DB, History, and
// AsOf. TxID is the transaction count the view reflects.
type Snapshot struct {
	TxID  int64
	Peers map[string]PeerFact
	Jobs  map[string]JobFact
	Tasks map[string]task.Task
}
