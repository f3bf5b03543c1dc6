package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/vortex/internal/cluster"
	"github.com/dreamware/vortex/internal/factstore"
	"github.com/dreamware/vortex/internal/logcommand"
	"github.com/dreamware/vortex/internal/syncstore"
	"github.com/dreamware/vortex/internal/task"
)

// ErrStopped is returned by the public submission methods once the
// coordinator's Stop has been called.
var ErrStopped = errors.New("coordinator: stopped")

const channelBuffer = 64

type planRequest struct {
	catalog  []task.CatalogEntry
	workflow task.Workflow
	reply    chan planResult
}

type planResult struct {
	jobID string
	err   error
}

// Config controls a Coordinator's timing knobs, per spec.md §6.
type Config struct {
	// RevokeDelay is how long an offered-but-unacked peer is given before
	// eviction. Zero means "evict on the very next scheduler tick" — used
	// by tests for deterministic instant eviction (spec.md §4.3, §8
	// scenario 5).
	RevokeDelay time.Duration
	Logger      *logrus.Entry
}

// Coordinator is the Cluster Coordinator of spec.md §4.3.
type Coordinator struct {
	facts *factstore.Store
	sync  syncstore.Store
	log   *logrus.Entry

	revokeDelay time.Duration

	bornPeerCh chan string
	deadPeerCh chan string
	ackCh      chan string
	completeCh chan string
	planningCh chan planRequest
	revokeCh   chan string

	offerMult      *Broadcaster
	ackMult        *Broadcaster
	completionMult *Broadcaster
	evictMult      *Broadcaster
	shutdownMult   *Broadcaster
	failureMult    *Broadcaster

	offerQ *offerQueue

	// cmdLog is the command-dispatch registry every committed event is
	// routed through before its handler runs, per spec.md §9.
	cmdLog *logcommand.Registry

	mu          sync.Mutex
	peerPulse   map[string]string // peer path -> pulse path, learned at registration
	revokeTimer map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator wired to facts and store. Call Start to begin
// processing.
func New(facts *factstore.Store, store syncstore.Store, cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "coordinator")
	}
	c := &Coordinator{
		facts:       facts,
		sync:        store,
		log:         log,
		revokeDelay: cfg.RevokeDelay,

		bornPeerCh: make(chan string, channelBuffer),
		deadPeerCh: make(chan string, channelBuffer),
		ackCh:      make(chan string, channelBuffer),
		completeCh: make(chan string, channelBuffer),
		planningCh: make(chan planRequest, channelBuffer),
		revokeCh:   make(chan string, channelBuffer),

		offerMult:      NewBroadcaster(),
		ackMult:        NewBroadcaster(),
		completionMult: NewBroadcaster(),
		evictMult:      NewBroadcaster(),
		shutdownMult:   NewBroadcaster(),
		failureMult:    NewBroadcaster(),

		offerQ: newOfferQueue(),
		cmdLog: logcommand.NewRegistry(),

		peerPulse:   make(map[string]string),
		revokeTimer: make(map[string]*time.Timer),
	}
	c.registerCommandHandlers()
	return c
}

// registerCommandHandlers installs the default handlers the Cluster
// Coordinator itself needs to invoke: every committed event a worker loop
// receives is dispatched through c.cmdLog rather than calling its process
// method directly, so the registry is the one place that maps a command
// Kind to the code that applies it.
func (c *Coordinator) registerCommandHandlers() {
	c.cmdLog.Register(logcommand.KindPeerBorn, func(ctx context.Context, payload any) error {
		c.processBornPeer(payload.(string))
		return nil
	})
	c.cmdLog.Register(logcommand.KindPeerDead, func(ctx context.Context, payload any) error {
		c.processDeadPeer(payload.(string))
		return nil
	})
	c.cmdLog.Register(logcommand.KindPlanJob, func(ctx context.Context, payload any) error {
		c.processPlanning(payload.(planRequest))
		return nil
	})
	c.cmdLog.Register(logcommand.KindOffer, func(ctx context.Context, payload any) error {
		c.processOffer()
		return nil
	})
	c.cmdLog.Register(logcommand.KindAck, func(ctx context.Context, payload any) error {
		c.processAck(payload.(string))
		return nil
	})
	c.cmdLog.Register(logcommand.KindComplete, func(ctx context.Context, payload any) error {
		c.processComplete(payload.(string))
		return nil
	})
}

// Start launches one cooperative worker per input channel. It must be
// called at most once.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	workers := []func(){
		c.runBornPeerWorker,
		c.runDeadPeerWorker,
		c.runAckWorker,
		c.runCompleteWorker,
		c.runPlanningWorker,
		c.runRevokeWorker,
		c.runOfferWorker,
	}
	for _, w := range workers {
		c.wg.Add(1)
		go func(w func()) {
			defer c.wg.Done()
			w()
		}(w)
	}
}

// Stop cancels every worker and waits for them to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Subscribe* return a receive channel for the corresponding broadcast and an
// unsubscribe function.
func (c *Coordinator) SubscribeOffer() (<-chan Event, func())      { return c.offerMult.Subscribe(channelBuffer) }
func (c *Coordinator) SubscribeAck() (<-chan Event, func())        { return c.ackMult.Subscribe(channelBuffer) }
func (c *Coordinator) SubscribeCompletion() (<-chan Event, func()) { return c.completionMult.Subscribe(channelBuffer) }
func (c *Coordinator) SubscribeEvict() (<-chan Event, func())      { return c.evictMult.Subscribe(channelBuffer) }
func (c *Coordinator) SubscribeShutdown() (<-chan Event, func())   { return c.shutdownMult.Subscribe(channelBuffer) }
func (c *Coordinator) SubscribeFailure() (<-chan Event, func())    { return c.failureMult.Subscribe(channelBuffer) }

// BornPeer enqueues peerPath onto born-peer-ch.
func (c *Coordinator) BornPeer(ctx context.Context, peerPath string) error {
	select {
	case c.bornPeerCh <- peerPath:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

// Plan submits a job for planning and blocks for its job-id (or error).
func (c *Coordinator) Plan(ctx context.Context, catalog []task.CatalogEntry, workflow task.Workflow) (string, error) {
	req := planRequest{catalog: catalog, workflow: workflow, reply: make(chan planResult, 1)}
	select {
	case c.planningCh <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.ctx.Done():
		return "", ErrStopped
	}
	select {
	case res := <-req.reply:
		return res.jobID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ack enqueues ackPath onto ack-ch, as if touch-place(ack-node) had fired.
func (c *Coordinator) Ack(ctx context.Context, ackPath string) error {
	select {
	case c.ackCh <- ackPath:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

// Complete enqueues completionPath onto completion-ch.
func (c *Coordinator) Complete(ctx context.Context, completionPath string) error {
	select {
	case c.completeCh <- completionPath:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

func (c *Coordinator) runBornPeerWorker() {
	for {
		select {
		case path := <-c.bornPeerCh:
			c.dispatch(logcommand.KindPeerBorn, path)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processBornPeer(path string) {
	tx, err := c.facts.MarkPeerBorn(path)
	if err != nil {
		c.log.WithField("peer", path).Warn("duplicate peer birth")
		c.failureMult.publish(Event{FailureKind: FailurePeerBirth, PeerPath: path})
		return
	}

	raw, err := c.sync.ReadPlace(path)
	if err != nil {
		c.log.WithField("peer", path).WithError(err).Error("peer registered without a readable registration")
		return
	}
	var reg cluster.Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		c.log.WithField("peer", path).WithError(err).Error("malformed peer registration")
		return
	}

	c.mu.Lock()
	c.peerPulse[path] = reg.Pulse
	c.mu.Unlock()

	c.sync.OnChange(reg.Pulse, func(ev syncstore.Event) {
		if ev.Change != syncstore.ChangeDeleted {
			return
		}
		select {
		case c.deadPeerCh <- path:
		default:
			c.log.WithField("peer", path).Warn("dead-peer-ch full, dropping pulse-loss signal")
		}
	})

	c.log.WithFields(logrus.Fields{"peer": path, "tx": tx}).Debug("peer born")
	c.offerQ.trigger()
}

func (c *Coordinator) runDeadPeerWorker() {
	for {
		select {
		case path := <-c.deadPeerCh:
			c.dispatch(logcommand.KindPeerDead, path)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processDeadPeer(path string) {
	tx, evicted, err := c.facts.MarkPeerDead(path)
	if err != nil {
		c.log.WithField("peer", path).Warn("death event for unknown or already-dead peer")
		c.failureMult.publish(Event{FailureKind: FailurePeerDeath, PeerPath: path})
		return
	}

	c.cancelRevoke(path)
	c.mu.Lock()
	delete(c.peerPulse, path)
	c.mu.Unlock()

	c.evictMult.publish(Event{PeerPath: path, TxID: tx, TaskID: evicted})
	c.shutdownMult.publish(Event{PeerPath: path, TxID: tx})
	c.log.WithFields(logrus.Fields{"peer": path, "evicted_task": evicted}).Info("peer dead")
	c.offerQ.trigger()
}

func (c *Coordinator) runPlanningWorker() {
	for {
		select {
		case req := <-c.planningCh:
			c.dispatch(logcommand.KindPlanJob, req)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processPlanning(req planRequest) {
	jobID := uuid.NewString()
	_, _, err := c.facts.PlanJob(jobID, req.catalog, req.workflow)
	if err != nil {
		req.reply <- planResult{err: fmt.Errorf("coordinator: plan job: %w", err)}
		return
	}
	req.reply <- planResult{jobID: jobID}
	c.log.WithField("job", jobID).Info("job planned")
	c.offerQ.trigger()
}

func (c *Coordinator) runAckWorker() {
	for {
		select {
		case path := <-c.ackCh:
			c.dispatch(logcommand.KindAck, path)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processAck(ackPath string) {
	tx, peerPath, err := c.facts.Ack(ackPath)
	if err != nil {
		c.failureMult.publish(Event{FailureKind: FailureAck, PeerPath: ackPath})
		return
	}
	c.cancelRevoke(peerPath)
	c.ackMult.publish(Event{TxID: tx, PeerPath: peerPath})
}

func (c *Coordinator) runCompleteWorker() {
	for {
		select {
		case path := <-c.completeCh:
			c.dispatch(logcommand.KindComplete, path)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processComplete(completionPath string) {
	tx, peerPath, taskID, _, err := c.facts.Complete(completionPath)
	if err != nil {
		c.failureMult.publish(Event{FailureKind: FailureComplete, PeerPath: completionPath})
		return
	}
	// Retract the now-stale payload pointer along with the fact store's own
	// node-path retraction, so a peer polling its registration record never
	// mistakes a completed offer for a new one.
	if err := c.setPeerPayloadPointer(peerPath, ""); err != nil {
		c.log.WithField("peer", peerPath).WithError(err).Warn("failed to clear peer payload pointer")
	}
	c.completionMult.publish(Event{TxID: tx, PeerPath: peerPath, TaskID: taskID})
	c.offerQ.trigger()
}

// setPeerPayloadPointer rewrites a peer's own registration record with a new
// (or, for "", cleared) payload pointer, preserving its pulse/shutdown
// paths. The peer's registration path is the one stable location a peer
// polls; the payload path itself changes on every offer.
func (c *Coordinator) setPeerPayloadPointer(peerPath, payloadPath string) error {
	raw, err := c.sync.ReadPlace(peerPath)
	if err != nil {
		return err
	}
	var reg cluster.Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return err
	}
	reg.Payload = payloadPath
	body, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return c.sync.WritePlace(peerPath, body)
}

func (c *Coordinator) runRevokeWorker() {
	for {
		select {
		case peerPath := <-c.revokeCh:
			c.processRevoke(peerPath)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processRevoke(peerPath string) {
	peer, ok := c.facts.Peer(peerPath)
	if !ok || peer.Status != factstore.StatusAcking {
		return // already acked, or already evicted by something else
	}

	c.mu.Lock()
	pulse := c.peerPulse[peerPath]
	c.mu.Unlock()

	if pulse == "" {
		return
	}
	if err := c.sync.Delete(pulse); err != nil && !errors.Is(err, syncstore.ErrNotFound) {
		c.log.WithField("peer", peerPath).WithError(err).Error("failed to revoke peer")
	}
	// Deletion fires the pulse watch registered at birth, which pushes
	// peerPath onto dead-peer-ch and drives the rest of the cascade.
}

func (c *Coordinator) scheduleRevoke(peerPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.revokeTimer[peerPath]; ok {
		t.Stop()
	}
	c.revokeTimer[peerPath] = time.AfterFunc(c.revokeDelay, func() {
		select {
		case c.revokeCh <- peerPath:
		case <-c.ctx.Done():
		}
	})
}

func (c *Coordinator) cancelRevoke(peerPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.revokeTimer[peerPath]; ok {
		t.Stop()
		delete(c.revokeTimer, peerPath)
	}
}

func (c *Coordinator) runOfferWorker() {
	for {
		if !c.offerQ.wait(c.ctx) {
			return
		}
		c.dispatch(logcommand.KindOffer, nil)
	}
}

// dispatch routes a committed event through the command registry. Handlers
// never return an error today (the fact-store calls they wrap report
// failure via the failure feed instead), so a Dispatch error here can only
// mean a Kind was never registered — a programmer error, logged rather than
// propagated since none of the worker loops have anywhere to return it to.
func (c *Coordinator) dispatch(kind logcommand.Kind, payload any) {
	if err := c.cmdLog.Dispatch(c.ctx, kind, payload); err != nil {
		c.log.WithField("kind", kind).WithError(err).Error("log-command dispatch failed")
	}
}

// processOffer repeats "pick next-task and idle-peer" until no progress can
// be made, per spec.md §4.3's offer contract.
func (c *Coordinator) processOffer() {
	for {
		t := c.facts.NextTask()
		if t == nil {
			return
		}
		peer := c.facts.IdlePeer()
		if peer == nil {
			return
		}

		payloadPath, err1 := c.sync.Create(syncstore.KindPayload)
		ackPath, err2 := c.sync.Create(syncstore.KindAck)
		statusPath, err3 := c.sync.Create(syncstore.KindStatus)
		completionPath, err4 := c.sync.Create(syncstore.KindCompletion)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			c.log.WithError(err).Error("failed to allocate offer node paths")
			return
		}

		job, _ := c.facts.DB().Jobs[t.JobID]
		nodes := factstore.PeerNodes{Payload: payloadPath, Ack: ackPath, Status: statusPath, Completion: completionPath}

		tx, err := c.facts.MarkOffered(peer.Path, t.ID, nodes)
		if err != nil {
			c.log.WithField("task", t.ID).WithError(err).Error("mark-offered failed")
			return
		}

		assignment := cluster.Assignment{
			Task: *t,
			Nodes: cluster.AssignmentNodes{
				Payload:    payloadPath,
				Ack:        ackPath,
				Completion: completionPath,
				Status:     statusPath,
				Catalog:    job.Catalog,
				Workflow:   job.Workflow,
				Peer:       peer.Path,
			},
		}
		body, err := json.Marshal(assignment)
		if err != nil {
			c.log.WithField("task", t.ID).WithError(err).Error("failed to encode assignment")
			return
		}
		// The task descriptor lands on the freshly minted payload path, not
		// on the peer's own registration path, per spec.md §4.3's "write the
		// peer's payload path" and §8 scenario 4's "coordinator swaps in the
		// next payload node". The peer's registration record is updated
		// second, to point at this payload path, so a peer can never observe
		// the pointer before the content it points to exists.
		if err := c.sync.WritePlace(payloadPath, body); err != nil {
			c.log.WithField("peer", peer.Path).WithError(err).Error("failed to write assignment payload")
			return
		}
		if err := c.setPeerPayloadPointer(peer.Path, payloadPath); err != nil {
			c.log.WithField("peer", peer.Path).WithError(err).Error("failed to update peer payload pointer")
			return
		}

		c.sync.OnChange(ackPath, func(ev syncstore.Event) {
			if ev.Change == syncstore.ChangeTouched {
				select {
				case c.ackCh <- ackPath:
				default:
					c.log.WithField("peer", peer.Path).Warn("ack-ch full, dropping ack signal")
				}
			}
		})
		c.sync.OnChange(completionPath, func(ev syncstore.Event) {
			if ev.Change == syncstore.ChangeTouched {
				select {
				case c.completeCh <- completionPath:
				default:
					c.log.WithField("peer", peer.Path).Warn("completion-ch full, dropping completion signal")
				}
			}
		})

		c.scheduleRevoke(peer.Path)
		c.offerMult.publish(Event{TxID: tx, PeerPath: peer.Path, TaskID: t.ID, JobID: t.JobID})
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
