package factstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/vortex/internal/task"
)

// Config controls where the fact store keeps its durable log. An empty Dir
// runs Badger fully in memory, which is all the unit tests need.
type Config struct {
	Dir    string
	Logger *logrus.Entry
}

// Store is the transactional, time-travel-capable fact store of spec.md
// §4.2. Every exported mutating method validates against the in-memory
// state, durably appends one event through a real Badger transaction, and
// only then mutates the in-memory state — so a Badger write failure never
// leaves the live view and the durable log disagreeing.
type Store struct {
	db  *badger.DB
	log *logrus.Entry

	mu       sync.Mutex
	peers    map[string]PeerFact
	peerOrder []string
	jobs     map[string]JobFact
	jobTasks map[string][]*task.Task // per job, in Planner order
	tasks    map[string]*task.Task   // by task ID
	events   []logEvent
}

// Open starts a Store durable under cfg.Dir (or fully in-memory if empty).
func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "factstore")
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("factstore: open badger: %w", err)
	}

	s := &Store{
		db:       db,
		log:      log,
		peers:    make(map[string]PeerFact),
		jobs:     make(map[string]JobFact),
		jobTasks: make(map[string][]*task.Task),
		tasks:    make(map[string]*task.Task),
	}

	if err := s.loadLog(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying Badger handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadLog() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("ev/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ev, err := decodeEvent(val)
			if err != nil {
				return err
			}
			s.applyReplayed(ev)
		}
		return nil
	})
}

// applyReplayed feeds one previously-persisted event through the same
// in-memory transitions the live operations apply, used only while loading
// an existing log at Open time.
func (s *Store) applyReplayed(ev logEvent) {
	s.events = append(s.events, ev)
	switch ev.Kind {
	case evPeerBorn:
		s.peers[ev.PeerPath] = PeerFact{Path: ev.PeerPath, Status: StatusIdle}
		s.peerOrder = append(s.peerOrder, ev.PeerPath)
	case evPeerDead:
		delete(s.peers, ev.PeerPath)
		s.removePeerOrder(ev.PeerPath)
	case evJobPlanned:
		s.jobs[ev.JobID] = JobFact{ID: ev.JobID, Catalog: ev.Catalog, Workflow: ev.Workflow}
		planned, err := task.NewPlanner().Plan(ev.JobID, ev.Catalog, ev.Workflow)
		if err == nil {
			s.jobTasks[ev.JobID] = planned
			for _, t := range planned {
				s.tasks[t.ID] = t
			}
		}
	case evOffered:
		p := s.peers[ev.PeerPath]
		p.Status, p.TaskID, p.Nodes = StatusAcking, ev.TaskID, ev.Nodes
		s.peers[ev.PeerPath] = p
	case evAcked:
		p := s.peers[ev.PeerPath]
		p.Status = StatusActive
		s.peers[ev.PeerPath] = p
	case evCompleted:
		p := s.peers[ev.PeerPath]
		p.Status, p.TaskID, p.Nodes = StatusIdle, "", PeerNodes{}
		s.peers[ev.PeerPath] = p
		if t, ok := s.tasks[ev.TaskID]; ok {
			t.Complete = true
		}
	}
}

func (s *Store) removePeerOrder(path string) {
	for i, p := range s.peerOrder {
		if p == path {
			s.peerOrder = append(s.peerOrder[:i], s.peerOrder[i+1:]...)
			return
		}
	}
}

// commit durably appends ev and returns its 1-based transaction id. Callers
// hold s.mu across validation, commit, and the in-memory mutation that
// follows, so a commit failure never diverges from the live view.
func (s *Store) commit(ev logEvent) (int64, error) {
	val, err := encodeEvent(ev)
	if err != nil {
		return 0, fmt.Errorf("factstore: encode event: %w", err)
	}
	txID := int64(len(s.events)) + 1
	key := []byte(fmt.Sprintf("ev/%020d", txID))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return 0, fmt.Errorf("factstore: persist event: %w", err)
	}
	s.events = append(s.events, ev)
	return txID, nil
}

// MarkPeerBorn records a newly-registered peer as idle.
func (s *Store) MarkPeerBorn(path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.peers[path]; exists {
		return 0, ErrDuplicatePeer
	}
	tx, err := s.commit(logEvent{Kind: evPeerBorn, PeerPath: path})
	if err != nil {
		return 0, err
	}
	s.peers[path] = PeerFact{Path: path, Status: StatusIdle}
	s.peerOrder = append(s.peerOrder, path)
	s.log.WithField("peer", path).Debug("peer born")
	return tx, nil
}

// MarkPeerDead retracts path's peer fact. If the peer was mid-task, the
// task's ID is returned so the caller can re-offer it; the task record
// itself is untouched, since "assigned" is derived from peer state, not
// stored on the task.
func (s *Store) MarkPeerDead(path string) (tx int64, evictedTask string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, ok := s.peers[path]
	if !ok {
		return 0, "", ErrPeerNotFound
	}
	tx, err = s.commit(logEvent{Kind: evPeerDead, PeerPath: path})
	if err != nil {
		return 0, "", err
	}
	delete(s.peers, path)
	s.removePeerOrder(path)

	if peer.TaskID != "" {
		if t, ok := s.tasks[peer.TaskID]; ok && !t.Complete {
			evictedTask = t.ID
		}
	}
	s.log.WithFields(logrus.Fields{"peer": path, "evicted_task": evictedTask}).Debug("peer dead")
	return tx, evictedTask, nil
}

// PlanJob plans a fresh job from catalog and workflow and records its tasks.
func (s *Store) PlanJob(jobID string, catalog []task.CatalogEntry, workflow task.Workflow) (int64, []*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	planned, err := task.NewPlanner().Plan(jobID, catalog, workflow)
	if err != nil {
		return 0, nil, err
	}
	tx, err := s.commit(logEvent{Kind: evJobPlanned, JobID: jobID, Catalog: catalog, Workflow: workflow})
	if err != nil {
		return 0, nil, err
	}
	s.jobs[jobID] = JobFact{ID: jobID, Catalog: catalog, Workflow: workflow}
	s.jobTasks[jobID] = planned
	for _, t := range planned {
		s.tasks[t.ID] = t
	}
	return tx, planned, nil
}

// isAssigned reports whether some peer currently in acking or active state
// is carrying taskID. Must be called with s.mu held.
func (s *Store) isAssigned(taskID string) bool {
	for _, p := range s.peers {
		if p.TaskID == taskID && (p.Status == StatusAcking || p.Status == StatusActive) {
			return true
		}
	}
	return false
}

// NextTask returns the lowest-phase incomplete, unassigned task across all
// planned jobs (ties broken by task name, then by job ID in lexicographic
// order), or nil if none remain.
func (s *Store) NextTask() *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobIDs := make([]string, 0, len(s.jobTasks))
	for id := range s.jobTasks {
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)

	var best *task.Task
	for _, jobID := range jobIDs {
		for _, t := range s.jobTasks[jobID] {
			if t.Complete || s.isAssigned(t.ID) {
				continue
			}
			if best == nil || t.Phase < best.Phase || (t.Phase == best.Phase && t.Name < best.Name) {
				cp := *t
				best = &cp
			}
		}
	}
	return best
}

// IdlePeer returns the earliest-registered peer that is currently idle, or
// nil if every known peer is busy.
func (s *Store) IdlePeer() *PeerFact {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range s.peerOrder {
		if p, ok := s.peers[path]; ok && p.Status == StatusIdle {
			cp := p
			return &cp
		}
	}
	return nil
}

// MarkOffered transitions an idle peer to acking, recording the sync-store
// node paths the offer handed it.
func (s *Store) MarkOffered(peerPath, taskID string, nodes PeerNodes) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, ok := s.peers[peerPath]
	if !ok {
		return 0, ErrPeerNotFound
	}
	if peer.Status != StatusIdle {
		return 0, fmt.Errorf("factstore: peer %q is not idle", peerPath)
	}
	if _, ok := s.tasks[taskID]; !ok {
		return 0, ErrTaskNotFound
	}

	tx, err := s.commit(logEvent{Kind: evOffered, PeerPath: peerPath, TaskID: taskID, Nodes: nodes})
	if err != nil {
		return 0, err
	}
	peer.Status, peer.TaskID, peer.Nodes = StatusAcking, taskID, nodes
	s.peers[peerPath] = peer
	return tx, nil
}

// Ack looks up the peer whose ack node path matches ackPath and transitions
// it from acking to active. It fails if no acking peer owns that path.
func (s *Store) Ack(ackPath string) (tx int64, peerPath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peerPath, peer, ok := s.findByAckPath(ackPath)
	if !ok || peer.Status != StatusAcking {
		return 0, "", ErrInvalidAck
	}

	tx, err = s.commit(logEvent{Kind: evAcked, PeerPath: peerPath})
	if err != nil {
		return 0, "", err
	}
	peer.Status = StatusActive
	s.peers[peerPath] = peer
	return tx, peerPath, nil
}

func (s *Store) findByAckPath(ackPath string) (string, PeerFact, bool) {
	for path, p := range s.peers {
		if p.Nodes.Ack == ackPath {
			return path, p, true
		}
	}
	return "", PeerFact{}, false
}

// Complete looks up the peer whose completion node path matches
// completionPath, marks its task complete, and returns the peer to idle —
// clearing its node paths. The pre-completion nodes are returned so the
// caller can tear down the matching sync-store places.
func (s *Store) Complete(completionPath string) (tx int64, peerPath, taskID string, nodes PeerNodes, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peerPath, peer, ok := s.findByCompletionPath(completionPath)
	if !ok || peer.Status != StatusActive {
		return 0, "", "", PeerNodes{}, ErrInvalidComplete
	}
	t, ok := s.tasks[peer.TaskID]
	if !ok || t.Complete {
		return 0, "", "", PeerNodes{}, ErrInvalidComplete
	}

	tx, err = s.commit(logEvent{Kind: evCompleted, PeerPath: peerPath, TaskID: t.ID})
	if err != nil {
		return 0, "", "", PeerNodes{}, err
	}

	priorNodes := peer.Nodes
	peer.Status, peer.TaskID, peer.Nodes = StatusIdle, "", PeerNodes{}
	s.peers[peerPath] = peer
	t.Complete = true

	return tx, peerPath, t.ID, priorNodes, nil
}

func (s *Store) findByCompletionPath(completionPath string) (string, PeerFact, bool) {
	for path, p := range s.peers {
		if p.Nodes.Completion == completionPath {
			return path, p, true
		}
	}
	return "", PeerFact{}, false
}

// Peer returns a copy of path's live peer fact, if any.
func (s *Store) Peer(path string) (PeerFact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[path]
	return p, ok
}

// Task returns a copy of taskID's current fact, if any.
func (s *Store) Task(taskID string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return task.Task{}, false
	}
	return *t, true
}

// DB returns a snapshot of the currently-live facts: dead peers are absent,
// matching the store's "peer death is retraction" rule.
func (s *Store) DB() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(false)
}

// History returns a snapshot that additionally includes every retracted
// (dead) peer, flagged via PeerFact.Retracted.
func (s *Store) History() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(true)
}

func (s *Store) snapshotLocked(includeRetracted bool) Snapshot {
	peers := make(map[string]PeerFact, len(s.peers))
	for k, v := range s.peers {
		peers[k] = v
	}
	jobs := make(map[string]JobFact, len(s.jobs))
	for k, v := range s.jobs {
		jobs[k] = v
	}
	tasks := make(map[string]task.Task, len(s.tasks))
	for k, v := range s.tasks {
		tasks[k] = *v
	}
	if includeRetracted {
		_, _, _, retracted := replay(s.events)
		for _, p := range retracted {
			peers[p.Path] = p
		}
	}
	return Snapshot{TxID: int64(len(s.events)), Peers: peers, Jobs: jobs, Tasks: tasks}
}

// AsOf replays the log up to (and including) tx and returns that point's
// view. tx <= 0 returns an empty snapshot; tx beyond the current log clamps
// to the latest.
func (s *Store) AsOf(tx int64) Snapshot {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()

	if tx > int64(len(events)) {
		tx = int64(len(events))
	}
	if tx < 0 {
		tx = 0
	}
	peers, jobs, tasks, _ := replay(events[:tx])
	return Snapshot{TxID: tx, Peers: peers, Jobs: jobs, Tasks: tasks}
}
