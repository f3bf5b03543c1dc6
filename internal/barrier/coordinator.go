package barrier

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/vortex/internal/checkpoint"
	"github.com/dreamware/vortex/internal/messenger"
)

// firstSnapshotEpoch is the earliest epoch at which a periodic barrier may
// carry a checkpoint write, per spec.md §4.4.
const firstSnapshotEpoch = 2

// Config holds a Coordinator's tunables. Zero-value durations fall back to
// conservative defaults so a caller that only cares about TenancyID doesn't
// have to spell every field out.
type Config struct {
	TenancyID       string
	HeartbeatPeriod time.Duration
	BarrierPeriod   time.Duration
	MaxSleep        time.Duration
	Logger          *logrus.Entry
	// OnFatal is invoked (off the main loop, via defer/recover) if the loop
	// panics. The spec treats this as "request a peer restart", not a
	// recoverable fault — no attempt is made to resume the loop in place.
	OnFatal func(jobID string, err error)
}

func (c Config) withDefaults() Config {
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 2 * time.Second
	}
	if c.BarrierPeriod <= 0 {
		c.BarrierPeriod = 10 * time.Second
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

// barrierOpts carries the per-epoch flags threaded into a Barrier message.
type barrierOpts struct {
	recovering        bool
	recoverCoordinate checkpoint.Coordinate
	checkpointedEpoch *int
}

// Coordinator is the Per-Job Barrier Coordinator of spec.md §4.4: one
// long-lived worker per job that owns a messenger.Set and drives the
// barrier/epoch protocol in strict priority order.
type Coordinator struct {
	jobID  string
	peerID string
	cfg    Config

	dir         messenger.Directory
	checkpoints *checkpoint.Store

	allocationCh chan Replica
	shutdownCh   chan string

	messenger messenger.Set
	shortIDs  *lru.Cache

	replica        Replica
	replicaVersion int
	epoch          int
	zkVersion      int64

	lastBarrierTime   time.Time
	lastHeartbeatTime time.Time
	offering          bool
	remBarriers       []messenger.Publisher
	barrierOpts       barrierOpts
	workflowDepth     int
}

// New constructs a Coordinator for jobID/peerID. It does not start its loop
// or own any publishers until the first Reallocate call delivers a Replica.
func New(jobID, peerID string, dir messenger.Directory, checkpoints *checkpoint.Store, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		jobID:        jobID,
		peerID:       peerID,
		cfg:          cfg,
		dir:          dir,
		checkpoints:  checkpoints,
		allocationCh: make(chan Replica, 1),
		shutdownCh:   make(chan string, 1),
	}
}

// Reallocate delivers a new Replica to the coordinator's allocation-ch. The
// channel has dropping capacity 1: a pending, not-yet-consumed replica is
// discarded in favor of the newer one, since only the latest allocation is
// ever meaningful.
func (c *Coordinator) Reallocate(r Replica) {
	for {
		select {
		case c.allocationCh <- r:
			return
		default:
			select {
			case <-c.allocationCh:
			default:
			}
		}
	}
}

// Shutdown requests the loop stop. It is one-shot and non-blocking; a
// Coordinator that has already been asked to stop silently ignores further
// calls.
func (c *Coordinator) Shutdown(reason string) {
	select {
	case c.shutdownCh <- reason:
	default:
	}
}

// Run drives the main loop until shutdown, ctx cancellation, or an
// unrecoverable panic. It is meant to be the body of a single long-lived
// goroutine per job.
func (c *Coordinator) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.cfg.Logger.WithFields(logrus.Fields{"job": c.jobID, "panic": r}).
				Error("barrier coordinator loop panicked, requesting restart")
			if c.messenger != nil {
				c.messenger.Stop()
			}
			if c.cfg.OnFatal != nil {
				c.cfg.OnFatal(c.jobID, errPanic(r))
			}
		}
	}()

	for {
		select {
		case reason := <-c.shutdownCh:
			c.cfg.Logger.WithFields(logrus.Fields{"job": c.jobID, "reason": reason}).Info("barrier coordinator stopping")
			if c.messenger != nil {
				c.messenger.Stop()
			}
			return
		case <-ctx.Done():
			if c.messenger != nil {
				c.messenger.Stop()
			}
			return
		default:
		}

		select {
		case replica := <-c.allocationCh:
			c.reallocate(replica)
			continue
		default:
		}

		now := time.Now()
		if !now.Before(c.lastHeartbeatTime.Add(c.cfg.HeartbeatPeriod)) {
			c.sendHeartbeats(ctx)
			c.lastHeartbeatTime = now
			continue
		}
		if c.offering {
			c.resumeOffer(ctx)
			continue
		}
		if !now.Before(c.lastBarrierTime.Add(c.cfg.BarrierPeriod)) {
			c.beginPeriodicBarrier()
			continue
		}

		select {
		case <-ctx.Done():
			if c.messenger != nil {
				c.messenger.Stop()
			}
			return
		case reason := <-c.shutdownCh:
			c.cfg.Logger.WithFields(logrus.Fields{"job": c.jobID, "reason": reason}).Info("barrier coordinator stopping")
			if c.messenger != nil {
				c.messenger.Stop()
			}
			return
		case replica := <-c.allocationCh:
			c.reallocate(replica)
		case <-time.After(c.parkDuration(now)):
		}
	}
}

// parkDuration bounds the loop's sleep to whichever comes first: max-sleep,
// the next heartbeat deadline, or (when not mid-offer) the next periodic
// barrier deadline.
func (c *Coordinator) parkDuration(now time.Time) time.Duration {
	wake := now.Add(c.cfg.MaxSleep)
	if hb := c.lastHeartbeatTime.Add(c.cfg.HeartbeatPeriod); hb.Before(wake) {
		wake = hb
	}
	if !c.offering {
		if bp := c.lastBarrierTime.Add(c.cfg.BarrierPeriod); bp.Before(wake) {
			wake = bp
		}
	}
	if d := wake.Sub(now); d > 0 {
		return d
	}
	return 0
}

// reallocate rebuilds the publisher set from a fresh Replica, resets
// replica-version/epoch, reloads the persisted checkpoint coordinate, and
// arms a recovery barrier offer.
func (c *Coordinator) reallocate(replica Replica) {
	if c.messenger != nil {
		c.messenger.Stop()
	}
	if c.shortIDs == nil || replica.WorkflowDepth != c.workflowDepth {
		c.shortIDs = newShortIDCache(replica.WorkflowDepth)
	}

	pubs := derivePublications(replica, c.peerID, c.shortIDs)
	c.messenger = messenger.Build(pubs, c.dir, c.cfg.Logger)

	coord, version, err := c.checkpoints.Get(checkpoint.Key{TenancyID: c.cfg.TenancyID, JobID: c.jobID})
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			c.cfg.Logger.WithError(err).Warn("checkpoint lookup failed, recovering from zero")
		}
		coord = checkpoint.Coordinate{TenancyID: c.cfg.TenancyID, JobID: c.jobID}
		version = 0
	}

	c.replica = replica
	c.replicaVersion = replica.AllocationVersion
	// Per spec.md §4.4, epoch always resets to 0 then immediately to 1 on a
	// fresh allocation — it never resumes from the persisted checkpoint's
	// epoch, which is surfaced separately as a recovery coordinate for
	// publishers to resume from, not as a seed for the live counter.
	c.epoch = 1
	c.zkVersion = version
	c.workflowDepth = replica.WorkflowDepth
	c.barrierOpts = barrierOpts{recovering: true, recoverCoordinate: coord}
	c.remBarriers = append([]messenger.Publisher(nil), c.messenger.Publishers()...)
	c.offering = true

	c.cfg.Logger.WithFields(logrus.Fields{
		"job":             c.jobID,
		"replica_version": c.replicaVersion,
		"epoch":           c.epoch,
	}).Info("barrier coordinator reallocated")
}

func (c *Coordinator) sendHeartbeats(ctx context.Context) {
	if c.messenger == nil {
		return
	}
	for _, p := range c.messenger.Publishers() {
		if err := p.Heartbeat(ctx); err != nil {
			c.cfg.Logger.WithError(err).Warn("heartbeat failed")
		}
	}
}

// beginPeriodicBarrier advances the epoch and, once far enough past the
// first snapshot epoch to have a full workflow in flight, attempts a CAS
// checkpoint write lagging the current epoch by the workflow depth. A CAS
// conflict is logged at info and never propagates — another coordinator (or
// a concurrent replica of this one) already moved the checkpoint forward.
func (c *Coordinator) beginPeriodicBarrier() {
	c.epoch++
	opts := barrierOpts{}

	if !c.replica.Completed && c.epoch >= firstSnapshotEpoch+c.workflowDepth {
		checkpointedEpoch := c.epoch - c.workflowDepth
		coord := checkpoint.Coordinate{
			TenancyID:      c.cfg.TenancyID,
			JobID:          c.jobID,
			ReplicaVersion: c.replicaVersion,
			Epoch:          checkpointedEpoch,
		}
		newVersion, err := c.checkpoints.PutCAS(checkpoint.Key{TenancyID: c.cfg.TenancyID, JobID: c.jobID}, coord, c.zkVersion)
		switch {
		case err == nil:
			c.zkVersion = newVersion
			opts.checkpointedEpoch = &checkpointedEpoch
		case errors.Is(err, checkpoint.ErrBadVersion):
			c.cfg.Logger.WithFields(logrus.Fields{"job": c.jobID, "epoch": c.epoch}).Info("checkpoint CAS conflict, skipping this barrier's write")
		default:
			c.cfg.Logger.WithError(err).Warn("checkpoint write rejected")
		}
	}

	c.barrierOpts = opts
	if c.messenger != nil {
		c.remBarriers = append([]messenger.Publisher(nil), c.messenger.Publishers()...)
	} else {
		c.remBarriers = nil
	}
	c.offering = true
}

// resumeOffer polls heartbeats and retries OfferBarrier on every publisher
// still owed this epoch's barrier, dropping each one as soon as it accepts.
func (c *Coordinator) resumeOffer(ctx context.Context) {
	barrier := messenger.Barrier{
		ReplicaVersion: c.replicaVersion,
		Epoch:          c.epoch,
		Recovering:     c.barrierOpts.recovering,
		CheckpointedAt: c.barrierOpts.checkpointedEpoch,
		TenancyID:      c.cfg.TenancyID,
		JobID:          c.jobID,
	}
	if c.barrierOpts.recovering {
		coord := c.barrierOpts.recoverCoordinate
		barrier.RecoverCoordinate = &coord
	}

	var pending []messenger.Publisher
	for _, p := range c.remBarriers {
		if err := p.Heartbeat(ctx); err != nil {
			c.cfg.Logger.WithError(err).Debug("heartbeat failed during offer resume")
		}
		n, err := p.OfferBarrier(ctx, barrier)
		if err != nil {
			c.cfg.Logger.WithError(err).Warn("barrier offer error, retrying next cycle")
			pending = append(pending, p)
			continue
		}
		if n <= 0 {
			pending = append(pending, p)
		}
	}
	c.remBarriers = pending

	if len(c.remBarriers) == 0 {
		c.offering = false
		c.barrierOpts = barrierOpts{}
		c.lastBarrierTime = time.Now()
	}
}

type panicError struct{ v interface{} }

func (e panicError) Error() string { return errPanicMsg(e.v) }

func errPanic(v interface{}) error { return panicError{v} }

func errPanicMsg(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "panic in barrier coordinator loop"
}
