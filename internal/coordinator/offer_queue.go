package coordinator

import (
	"context"

	"github.com/Workiva/go-datastructures/queue"
)

// offerQueue coalesces "something changed, re-run the offer pass" signals.
// It is hedisam-dipipe's idleQueue (a per-stage worker queue) repurposed: instead of a queue of idle workers waiting to be claimed, it
// is a queue of trigger tokens waiting to be drained by the single offer
// worker, backed by the same lock-free ring buffer.
type offerQueue struct {
	ring *queue.RingBuffer
}

func newOfferQueue() *offerQueue {
	return &offerQueue{ring: queue.NewRingBuffer(64)}
}

// trigger enqueues a wakeup. A full ring (an offer pass already has plenty
// queued up behind it) is not an error — the signal is already redundant.
func (q *offerQueue) trigger() {
	_, _ = q.ring.Offer(struct{}{})
}

// wait blocks until a trigger is available or ctx is done, returning false
// in the latter case (including after dispose, which unblocks any pending
// Get with an error).
func (q *offerQueue) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.ring.Get()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		q.dispose()
		<-done
		return false
	}
}

func (q *offerQueue) dispose() {
	q.ring.Dispose()
}
