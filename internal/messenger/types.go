package messenger

import (
	"context"

	"github.com/dreamware/vortex/internal/checkpoint"
)

// PeerRole identifies the source of a publication: the Barrier Coordinator
// peer acting in the "coordinator" role for a job.
type PeerRole struct {
	Role   string `json:"role"`
	PeerID string `json:"peer_id"`
}

// Publication is one (task, site) descriptor derived from a job's replica,
// per spec.md §4.4's "publications derivation". SlotID is always -1 for a
// coordinator-originated publication.
type Publication struct {
	Task       string   `json:"task"`
	Site       string   `json:"site"`
	Src        PeerRole `json:"src"`
	SlotID     int      `json:"slot_id"`
	DstPeerIDs []string `json:"dst_peer_ids"`
	ShortID    string   `json:"short_id"`
}

// Key uniquely identifies a Publication for deduplication purposes.
func (p Publication) Key() string {
	return p.Task + "\x00" + p.Site
}

// Barrier is the control message injected at every input publication.
type Barrier struct {
	ReplicaVersion int    `json:"replica_version"`
	Epoch          int    `json:"epoch"`
	Recovering     bool   `json:"recovering,omitempty"`
	CheckpointedAt *int   `json:"checkpointed_epoch,omitempty"`
	TenancyID      string `json:"tenancy_id,omitempty"`
	JobID          string `json:"job_id,omitempty"`
	// RecoverCoordinate carries the persisted (tenancy, job, replica-version,
	// epoch) tuple a recovering publisher must resume from. Only meaningful
	// when Recovering is true.
	RecoverCoordinate *checkpoint.Coordinate `json:"recover_coordinate,omitempty"`
}

// Directory resolves a peer ID to its reachable network address. The
// Cluster Coordinator (or its replica view) is the only source of truth for
// this mapping; the Barrier Coordinator only ever reads it.
type Directory interface {
	Addr(peerID string) (string, bool)
}

// Publisher is a single destination of a Barrier Coordinator's messenger.
type Publisher interface {
	// Heartbeat sends a liveness ping. Failures are logged and otherwise
	// ignored — heartbeats aren't part of the offer/ack protocol.
	Heartbeat(ctx context.Context) error
	// OfferBarrier attempts delivery of barrier and returns the count of
	// destination peers that accepted it. A strictly positive count is
	// success; zero means "try again next cycle" and is not itself an
	// error.
	OfferBarrier(ctx context.Context, barrier Barrier) (int, error)
	// Stop releases any resources held by the publisher.
	Stop()
}

// Set is a job's complete publisher set, one Publisher per Publication.
type Set interface {
	Publishers() []Publisher
	Stop()
}
