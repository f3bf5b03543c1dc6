package factstore

import (
	"testing"

	"github.com/dreamware/vortex/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func simpleCatalog() []task.CatalogEntry {
	return []task.CatalogEntry{
		{Name: "in", Type: task.TypeQueue, Direction: task.DirectionInput, QueueName: "ext-in"},
		{Name: "xform", Type: task.TypeTransformer},
		{Name: "out", Type: task.TypeQueue, Direction: task.DirectionOutput, QueueName: "ext-out"},
	}
}

func simpleWorkflow() task.Workflow {
	return task.Workflow{
		"in":    {"xform": {}},
		"xform": {"out": {}},
	}
}

func TestMarkPeerBornAndDuplicate(t *testing.T) {
	s := newTestStore(t)

	tx, err := s.MarkPeerBorn("peer-1")
	if err != nil {
		t.Fatalf("MarkPeerBorn: %v", err)
	}
	if tx != 1 {
		t.Errorf("expected tx 1, got %d", tx)
	}

	if _, err := s.MarkPeerBorn("peer-1"); err != ErrDuplicatePeer {
		t.Errorf("expected ErrDuplicatePeer, got %v", err)
	}

	p, ok := s.Peer("peer-1")
	if !ok || p.Status != StatusIdle {
		t.Errorf("expected idle peer fact, got %+v ok=%v", p, ok)
	}
}

func TestMarkPeerDeadRetractsAndEvicts(t *testing.T) {
	s := newTestStore(t)
	s.MarkPeerBorn("peer-1")
	_, tasks, err := s.PlanJob("job-1", simpleCatalog(), simpleWorkflow())
	if err != nil {
		t.Fatalf("PlanJob: %v", err)
	}
	_, err = s.MarkOffered("peer-1", tasks[0].ID, PeerNodes{Ack: "ack-path"})
	if err != nil {
		t.Fatalf("MarkOffered: %v", err)
	}

	_, evicted, err := s.MarkPeerDead("peer-1")
	if err != nil {
		t.Fatalf("MarkPeerDead: %v", err)
	}
	if evicted != tasks[0].ID {
		t.Errorf("expected evicted task %q, got %q", tasks[0].ID, evicted)
	}

	if _, ok := s.Peer("peer-1"); ok {
		t.Error("expected dead peer to be absent from live view")
	}

	hist := s.History()
	hp, ok := hist.Peers["peer-1"]
	if !ok || !hp.Retracted {
		t.Errorf("expected history to retain a retracted peer-1, got %+v ok=%v", hp, ok)
	}

	if _, _, err := s.MarkPeerDead("peer-1"); err != ErrPeerNotFound {
		t.Errorf("expected ErrPeerNotFound on double-death, got %v", err)
	}
}

func TestPlanJobOrdersTasksByPhase(t *testing.T) {
	s := newTestStore(t)
	_, tasks, err := s.PlanJob("job-1", simpleCatalog(), simpleWorkflow())
	if err != nil {
		t.Fatalf("PlanJob: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].Name != "in" || tasks[0].Phase != 0 {
		t.Errorf("expected 'in' at phase 0 first, got %+v", tasks[0])
	}
}

func TestNextTaskSkipsAssignedAndCompleted(t *testing.T) {
	s := newTestStore(t)
	s.MarkPeerBorn("peer-1")
	_, tasks, _ := s.PlanJob("job-1", simpleCatalog(), simpleWorkflow())

	first := s.NextTask()
	if first == nil || first.Name != "in" {
		t.Fatalf("expected 'in' first, got %+v", first)
	}

	if _, err := s.MarkOffered("peer-1", first.ID, PeerNodes{Ack: "ack-1", Completion: "done-1"}); err != nil {
		t.Fatalf("MarkOffered: %v", err)
	}

	second := s.NextTask()
	if second == nil || second.Name == "in" {
		t.Fatalf("expected next task to skip the now-assigned 'in', got %+v", second)
	}

	if _, _, err := s.Ack("ack-1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, _, _, _, err := s.Complete("done-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	gotComplete, ok := s.Task(tasks[0].ID)
	if !ok || !gotComplete.Complete {
		t.Errorf("expected task %q to be complete, got %+v", tasks[0].ID, gotComplete)
	}

	p, _ := s.Peer("peer-1")
	if p.Status != StatusIdle || p.TaskID != "" || p.Nodes != (PeerNodes{}) {
		t.Errorf("expected peer reset to idle with cleared nodes, got %+v", p)
	}
}

func TestIdlePeerOrdersByRegistration(t *testing.T) {
	s := newTestStore(t)
	s.MarkPeerBorn("peer-a")
	s.MarkPeerBorn("peer-b")

	first := s.IdlePeer()
	if first == nil || first.Path != "peer-a" {
		t.Fatalf("expected peer-a first, got %+v", first)
	}

	_, tasks, _ := s.PlanJob("job-1", simpleCatalog(), simpleWorkflow())
	s.MarkOffered("peer-a", tasks[0].ID, PeerNodes{})

	second := s.IdlePeer()
	if second == nil || second.Path != "peer-b" {
		t.Fatalf("expected peer-b once peer-a is busy, got %+v", second)
	}
}

func TestAckRejectsUnknownOrWrongState(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Ack("nowhere"); err != ErrInvalidAck {
		t.Errorf("expected ErrInvalidAck for unknown path, got %v", err)
	}

	s.MarkPeerBorn("peer-1")
	if _, _, err := s.Ack("nowhere"); err != ErrInvalidAck {
		t.Errorf("expected ErrInvalidAck for idle peer with no ack path, got %v", err)
	}
}

func TestCompleteRejectsDoubleCompletion(t *testing.T) {
	s := newTestStore(t)
	s.MarkPeerBorn("peer-1")
	_, tasks, _ := s.PlanJob("job-1", simpleCatalog(), simpleWorkflow())
	s.MarkOffered("peer-1", tasks[0].ID, PeerNodes{Ack: "ack-1", Completion: "done-1"})
	s.Ack("ack-1")

	if _, _, _, _, err := s.Complete("done-1"); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if _, _, _, _, err := s.Complete("done-1"); err != ErrInvalidComplete {
		t.Errorf("expected ErrInvalidComplete on replay, got %v", err)
	}
}

func TestAsOfReplaysPriorState(t *testing.T) {
	s := newTestStore(t)
	tx1, _ := s.MarkPeerBorn("peer-1")
	s.MarkPeerBorn("peer-2")

	snap := s.AsOf(tx1)
	if _, ok := snap.Peers["peer-1"]; !ok {
		t.Error("expected peer-1 present as-of tx1")
	}
	if _, ok := snap.Peers["peer-2"]; ok {
		t.Error("expected peer-2 absent as-of tx1, before it was born")
	}

	latest := s.AsOf(100)
	if len(latest.Peers) != 2 {
		t.Errorf("expected AsOf clamped beyond the log to return the latest state, got %d peers", len(latest.Peers))
	}
}

func TestPlanJobRejectsCyclicWorkflow(t *testing.T) {
	s := newTestStore(t)
	cyclic := task.Workflow{"a": {"b": {}}, "b": {"a": {}}}
	catalog := []task.CatalogEntry{{Name: "a", Type: task.TypeTransformer}, {Name: "b", Type: task.TypeTransformer}}

	if _, _, err := s.PlanJob("job-1", catalog, cyclic); err == nil {
		t.Error("expected a cyclic workflow to be rejected")
	}
	if _, ok := s.jobs["job-1"]; ok {
		t.Error("a rejected plan must not be recorded")
	}
}
