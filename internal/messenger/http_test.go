package messenger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
)

type staticDirectory map[string]string

func (d staticDirectory) Addr(peerID string) (string, bool) {
	addr, ok := d[peerID]
	return addr, ok
}

func TestBuildDeduplicatesByKey(t *testing.T) {
	pubs := []Publication{
		{Task: "in", Site: "site-a", DstPeerIDs: []string{"p1"}},
		{Task: "in", Site: "site-a", DstPeerIDs: []string{"p1"}}, // duplicate
		{Task: "in", Site: "site-b", DstPeerIDs: []string{"p2"}},
	}
	set := Build(pubs, staticDirectory{}, silentLogger())
	if len(set.Publishers()) != 2 {
		t.Fatalf("expected 2 deduplicated publishers, got %d", len(set.Publishers()))
	}
}

func TestOfferBarrierCountsAcceptances(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dir := staticDirectory{"p1": srv.URL, "p2": srv.URL}
	pub := newHTTPPublisher(Publication{Task: "in", DstPeerIDs: []string{"p1", "p2"}}, dir, silentLogger())

	n, err := pub.OfferBarrier(context.Background(), Barrier{Epoch: 3})
	if err != nil {
		t.Fatalf("OfferBarrier: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 acceptances, got %d", n)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected 2 HTTP hits, got %d", hits)
	}
}

func TestOfferBarrierSkipsUnknownPeers(t *testing.T) {
	pub := newHTTPPublisher(Publication{Task: "in", DstPeerIDs: []string{"ghost"}}, staticDirectory{}, silentLogger())
	n, err := pub.OfferBarrier(context.Background(), Barrier{Epoch: 1})
	if err != nil {
		t.Fatalf("OfferBarrier: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 acceptances for an unresolvable peer, got %d", n)
	}
}

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nowhere{})
	return logrus.NewEntry(l)
}

type nowhere struct{}

func (nowhere) Write(p []byte) (int, error) { return len(p), nil }
