package task

import (
	"encoding/json"

	"golang.org/x/exp/slices"
)

// Type is the onyx/type of a catalog entry. The coordinator only ever
// branches on TypeQueue vs TypeTransformer; everything else about a task
// (the business logic a peer runs for it) is opaque.
type Type string

const (
	TypeQueue       Type = "queue"
	TypeTransformer Type = "transformer"
)

// Direction is onyx/direction, meaningful only when Type == TypeQueue.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// CatalogEntry is one element of a job's catalog, as submitted by the
// client-facing API. Field names mirror the wire keys from spec.md's
// "Catalog descriptor" contract; onyx/consumption is intentionally left
// opaque (json.RawMessage) since the coordinator never inspects it.
type CatalogEntry struct {
	Name        string          `json:"onyx/name"`
	Type        Type            `json:"onyx/type"`
	Direction   Direction       `json:"onyx/direction,omitempty"`
	QueueMedium string          `json:"onyx/medium,omitempty"`
	QueueName   string          `json:"onyx/queue-name,omitempty"`
	Consumption json.RawMessage `json:"onyx/consumption,omitempty"`
}

// Workflow is a map-of-maps {src -> {dst1 -> {}, dst2 -> {}}} describing a
// DAG. A node with no incoming edge is an input; a node with no outgoing
// edge is an output.
type Workflow map[string]map[string]struct{}

// Edges returns every (src, dst) pair in the workflow, in a deterministic
// order (sorted by src, then dst) so planning is reproducible.
func (w Workflow) Edges() [][2]string {
	srcs := make([]string, 0, len(w))
	for src := range w {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)

	var edges [][2]string
	for _, src := range srcs {
		dsts := make([]string, 0, len(w[src]))
		for dst := range w[src] {
			dsts = append(dsts, dst)
		}
		slices.Sort(dsts)
		for _, dst := range dsts {
			edges = append(edges, [2]string{src, dst})
		}
	}
	return edges
}

// Nodes returns the set of every task name appearing anywhere in the
// workflow, either as a source or a destination.
func (w Workflow) Nodes() map[string]struct{} {
	nodes := make(map[string]struct{})
	for src, dsts := range w {
		nodes[src] = struct{}{}
		for dst := range dsts {
			nodes[dst] = struct{}{}
		}
	}
	return nodes
}

// Task is a single node of a planned job's workflow: a catalog entry
// annotated with its topological phase and the queue names that connect it
// to its neighbors.
type Task struct {
	ID       string   `json:"id"`
	JobID    string   `json:"job_id"`
	Name     string   `json:"name"`
	Phase    int      `json:"phase"`
	Ingress  []string `json:"ingress_queues"`
	Egress   []string `json:"egress_queues"`
	Complete bool     `json:"complete"`
}
