package factstore

import (
	"encoding/json"

	"github.com/dreamware/vortex/internal/task"
)

// eventKind tags one entry of the append-only log every mutating operation
// writes to. The log is the only thing AsOf and History replay from; DB and
// the live operations read the incrementally-maintained in-memory state
// instead, so a full replay is only ever paid for on an explicit time-travel
// query.
type eventKind string

const (
	evPeerBorn   eventKind = "peer-born"
	evPeerDead   eventKind = "peer-dead"
	evJobPlanned eventKind = "job-planned"
	evOffered    eventKind = "offered"
	evAcked      eventKind = "acked"
	evCompleted  eventKind = "completed"
)

type logEvent struct {
	Kind     eventKind           `json:"kind"`
	PeerPath string              `json:"peer_path,omitempty"`
	TaskID   string              `json:"task_id,omitempty"`
	JobID    string              `json:"job_id,omitempty"`
	Nodes    PeerNodes           `json:"nodes,omitempty"`
	Catalog  []task.CatalogEntry `json:"catalog,omitempty"`
	Workflow task.Workflow       `json:"workflow,omitempty"`
}

func encodeEvent(ev logEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(b []byte) (logEvent, error) {
	var ev logEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}

// replay reconstructs Peers, Jobs, and Tasks from a prefix of the event log.
// Job planning is replayed by recomputing task.Planner.Plan rather than by
// persisting its output, since planning is a pure function of (jobID,
// catalog, workflow) and the three are already in the event.
func replay(events []logEvent) (peers map[string]PeerFact, jobs map[string]JobFact, tasks map[string]task.Task, retracted []PeerFact) {
	peers = make(map[string]PeerFact)
	jobs = make(map[string]JobFact)
	tasks = make(map[string]task.Task)
	planner := task.NewPlanner()

	for _, ev := range events {
		switch ev.Kind {
		case evPeerBorn:
			peers[ev.PeerPath] = PeerFact{Path: ev.PeerPath, Status: StatusIdle}

		case evPeerDead:
			p := peers[ev.PeerPath]
			p.Retracted = true
			retracted = append(retracted, p)
			delete(peers, ev.PeerPath)

		case evJobPlanned:
			jobs[ev.JobID] = JobFact{ID: ev.JobID, Catalog: ev.Catalog, Workflow: ev.Workflow}
			planned, err := planner.Plan(ev.JobID, ev.Catalog, ev.Workflow)
			if err == nil {
				for _, t := range planned {
					tasks[t.ID] = *t
				}
			}

		case evOffered:
			p := peers[ev.PeerPath]
			p.Status = StatusAcking
			p.TaskID = ev.TaskID
			p.Nodes = ev.Nodes
			peers[ev.PeerPath] = p

		case evAcked:
			p := peers[ev.PeerPath]
			p.Status = StatusActive
			peers[ev.PeerPath] = p

		case evCompleted:
			p := peers[ev.PeerPath]
			p.Status = StatusIdle
			p.TaskID = ""
			p.Nodes = PeerNodes{}
			peers[ev.PeerPath] = p

			t := tasks[ev.TaskID]
			t.Complete = true
			tasks[ev.TaskID] = t
		}
	}
	return peers, jobs, tasks, retracted
}
