package messenger

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/vortex/internal/cluster"
)

// HTTPPublisher is the production Publisher, built on the teacher's
// cluster.PostJSON helper — the same small HTTP/JSON client the teacher
// already uses for inter-node calls, reused here for barrier delivery
// instead of shard broadcast.
type HTTPPublisher struct {
	pub Publication
	dir Directory
	log *logrus.Entry
}

func newHTTPPublisher(pub Publication, dir Directory, log *logrus.Entry) *HTTPPublisher {
	return &HTTPPublisher{pub: pub, dir: dir, log: log}
}

func (p *HTTPPublisher) Heartbeat(ctx context.Context) error {
	for _, id := range p.pub.DstPeerIDs {
		addr, ok := p.dir.Addr(id)
		if !ok {
			p.log.WithField("peer", id).Warn("heartbeat: unknown peer address")
			continue
		}
		if err := cluster.PostJSON(ctx, addr+"/barrier/heartbeat", p.pub, nil); err != nil {
			p.log.WithField("peer", id).WithError(err).Warn("heartbeat delivery failed")
		}
	}
	return nil
}

// OfferBarrier posts barrier to every destination peer of this publication
// and returns how many accepted it.
func (p *HTTPPublisher) OfferBarrier(ctx context.Context, barrier Barrier) (int, error) {
	accepted := 0
	for _, id := range p.pub.DstPeerIDs {
		addr, ok := p.dir.Addr(id)
		if !ok {
			p.log.WithField("peer", id).Warn("offer: unknown peer address")
			continue
		}
		if err := cluster.PostJSON(ctx, addr+"/barrier/offer", barrier, nil); err != nil {
			p.log.WithFields(logrus.Fields{"peer": id, "epoch": barrier.Epoch}).WithError(err).Debug("barrier not yet accepted")
			continue
		}
		accepted++
	}
	return accepted, nil
}

func (p *HTTPPublisher) Stop() {}

// HTTPSet is a job's full publisher set over HTTP.
type HTTPSet struct {
	publishers []Publisher
}

// Build deduplicates pubs by Key and constructs one HTTPPublisher per unique
// publication.
func Build(pubs []Publication, dir Directory, log *logrus.Entry) *HTTPSet {
	seen := make(map[string]bool, len(pubs))
	set := &HTTPSet{}
	for _, pub := range pubs {
		if seen[pub.Key()] {
			continue
		}
		seen[pub.Key()] = true
		set.publishers = append(set.publishers, newHTTPPublisher(pub, dir, log))
	}
	return set
}

func (s *HTTPSet) Publishers() []Publisher { return s.publishers }

func (s *HTTPSet) Stop() {
	for _, p := range s.publishers {
		p.Stop()
	}
}
