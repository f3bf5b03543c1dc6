package syncstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PulseMonitor periodically expires pulse paths that haven't been
// written/touched within ttl, standing in for the session-timeout behavior
// of a real ensemble (the peer that owns the pulse is expected to touch it
// on every heartbeat; if it stops, its process has presumably died).
//
// This is the teacher's HealthMonitor, repointed: instead of polling an
// HTTP /health endpoint and counting consecutive failures, it polls the
// store's own bookkeeping of "last touched" and deletes stale entries
// directly. Deleting a pulse path fires the same ChangeDeleted watch event
// that an explicit Delete would, so callers don't need to know which path
// triggered it.
type PulseMonitor struct {
	store    *Memory
	interval time.Duration
	ttl      time.Duration
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPulseMonitor returns a monitor that checks for stale pulses every
// interval, expiring any pulse untouched for longer than ttl.
func NewPulseMonitor(store *Memory, interval, ttl time.Duration) *PulseMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &PulseMonitor{
		store:    store,
		interval: interval,
		ttl:      ttl,
		log:      logrus.WithField("component", "pulse-monitor"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the monitor loop until Stop is called. Intended to be run via
// `go monitor.Start()`.
func (m *PulseMonitor) Start() {
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.WithField("interval", m.interval).Info("pulse monitor started")

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.ctx.Done():
			m.log.Info("pulse monitor stopping")
			return
		}
	}
}

// Stop cancels the monitor loop and waits for it to exit.
func (m *PulseMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *PulseMonitor) sweep() {
	now := time.Now()
	for path, lastTouch := range m.store.snapshotByKind(KindPulse) {
		if now.Sub(lastTouch) < m.ttl {
			continue
		}
		m.log.WithField("path", path).Warn("pulse expired, evicting")
		if err := m.store.Delete(path); err != nil && err != ErrNotFound {
			m.log.WithField("path", path).WithError(err).Error("failed to expire stale pulse")
		}
	}
}
