package task

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Planner computes the set of Task records for a job from its catalog and
// workflow. It owns no state of its own — planning is a pure function of
// its inputs — mirroring the Cluster Coordinator's policy that scheduling
// decisions live behind a swappable interface rather than inside the
// planner.
//
// This is the teacher's consistent-hashing shard assignment, repointed at a
// different problem: instead of hashing keys onto a fixed shard count, we
// hash workflow edges onto deterministic internal queue names, and instead
// of a round-robin rebalance we compute a topological phase per task.
type Planner struct{}

// NewPlanner returns a stateless Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan derives the Task set for jobID from catalog and workflow.
//
// For every node in the workflow:
//   - its phase is the length (in edges) of the longest path reaching it
//     from any root (a node with no incoming edge); roots are phase 0.
//   - for every edge a -> b, a fresh internal queue name is minted and
//     appended to a's egress queues and b's ingress queues.
//   - input tasks (no incoming edge) additionally take their ingress queue
//     from the catalog's declared queue name; output tasks (no outgoing
//     edge) take their egress queue from the catalog similarly.
//
// Plan fails if the workflow contains a cycle (topological phase is
// undefined) or if a workflow node has no matching catalog entry.
func (p *Planner) Plan(jobID string, catalog []CatalogEntry, workflow Workflow) ([]*Task, error) {
	byName := make(map[string]CatalogEntry, len(catalog))
	for _, c := range catalog {
		byName[c.Name] = c
	}

	nodes := workflow.Nodes()
	for name := range nodes {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("task: workflow references unknown catalog entry %q", name)
		}
	}

	phases, err := phasesOf(workflow, nodes)
	if err != nil {
		return nil, err
	}

	tasks := make(map[string]*Task, len(nodes))
	for name := range nodes {
		tasks[name] = &Task{
			ID:    fmt.Sprintf("%s/%s", jobID, name),
			JobID: jobID,
			Name:  name,
			Phase: phases[name],
		}
	}

	hasIncoming := make(map[string]bool, len(nodes))
	hasOutgoing := make(map[string]bool, len(nodes))
	for _, edge := range workflow.Edges() {
		src, dst := edge[0], edge[1]
		hasOutgoing[src] = true
		hasIncoming[dst] = true

		q := queueName(jobID, src, dst)
		tasks[src].Egress = append(tasks[src].Egress, q)
		tasks[dst].Ingress = append(tasks[dst].Ingress, q)
	}

	for name, t := range tasks {
		entry := byName[name]
		if entry.Type == TypeQueue && entry.Direction == DirectionInput && !hasIncoming[name] {
			t.Ingress = append(t.Ingress, entry.QueueName)
		}
		if entry.Type == TypeQueue && entry.Direction == DirectionOutput && !hasOutgoing[name] {
			t.Egress = append(t.Egress, entry.QueueName)
		}
	}

	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Phase != out[j].Phase {
			return out[i].Phase < out[j].Phase
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// phasesOf computes each node's longest distance from any root (one more
// than its highest-phase parent) via repeated relaxation (Bellman-Ford style, bounded by len(nodes) rounds) and detects
// cycles by a round that makes no further progress while nodes remain
// unassigned.
func phasesOf(workflow Workflow, nodes map[string]struct{}) (map[string]int, error) {
	incoming := make(map[string][]string)
	for _, edge := range workflow.Edges() {
		incoming[edge[1]] = append(incoming[edge[1]], edge[0])
	}

	phase := make(map[string]int, len(nodes))
	for name := range nodes {
		if len(incoming[name]) == 0 {
			phase[name] = 0
		}
	}

	for round := 0; round < len(nodes)+1; round++ {
		progress := false
		for name := range nodes {
			if _, done := phase[name]; done {
				continue
			}
			maxParent, ready := -1, true
			for _, parent := range incoming[name] {
				p, ok := phase[parent]
				if !ok {
					ready = false
					break
				}
				if p > maxParent {
					maxParent = p
				}
			}
			if ready {
				phase[name] = maxParent + 1
				progress = true
			}
		}
		if len(phase) == len(nodes) {
			return phase, nil
		}
		if !progress {
			break
		}
	}
	return nil, fmt.Errorf("task: workflow contains a cycle")
}

// queueName deterministically mints an internal queue name for the edge
// (src -> dst) of jobID, using FNV-1a the same way the teacher's shard
// registry hashes keys onto shards.
func queueName(jobID, src, dst string) string {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	h.Write([]byte{0})
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(dst))
	return fmt.Sprintf("q-%08x", h.Sum32())
}
