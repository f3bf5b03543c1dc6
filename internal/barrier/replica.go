package barrier

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dreamware/vortex/internal/messenger"
)

// PeerSite pairs an allocated peer with its co-location key, as seen by the
// cluster coordinator's replica view.
type PeerSite struct {
	PeerID string
	Site   string
}

// Replica is the slice of cluster state a Barrier Coordinator needs in order
// to drive one job: which peers are allocated to which input tasks, the
// job's workflow depth (for checkpoint lag), and the precomputed short IDs
// used to keep wire messages small.
type Replica struct {
	JobID             string
	AllocationVersion int
	Completed         bool
	InputTasks        []string
	TaskPeers         map[string][]PeerSite
	WorkflowDepth     int
	MessageShortIDs   map[ShortIDKey]string
	Coordinators      map[string]string // job-id -> elected coordinator peer-id
}

// ShortIDKey names one (coordinator, task) publication slot for the purpose
// of looking up its pre-minted short ID.
type ShortIDKey struct {
	PeerID string
	JobID  string
	Task   string
}

func (k ShortIDKey) cacheKey() string {
	return fmt.Sprintf("%s\x00%s\x00%s", k.PeerID, k.JobID, k.Task)
}

// derivePublications groups a job's allocated peers by (task, site) and
// emits one coordinator-originated Publication per group, per spec.md
// §4.4's publications derivation. shortIDs, when non-nil, caches the
// formatted short ID per task so repeated barrier ticks don't re-walk the
// replica's full short-id table.
func derivePublications(replica Replica, coordinatorPeerID string, shortIDs *lru.Cache) []messenger.Publication {
	pubs := make([]messenger.Publication, 0, len(replica.InputTasks))
	for _, task := range replica.InputTasks {
		bySite := make(map[string][]string)
		for _, ps := range replica.TaskPeers[task] {
			bySite[ps.Site] = append(bySite[ps.Site], ps.PeerID)
		}
		sites := make([]string, 0, len(bySite))
		for site := range bySite {
			sites = append(sites, site)
		}
		sort.Strings(sites)

		key := ShortIDKey{PeerID: coordinatorPeerID, JobID: replica.JobID, Task: task}
		shortID := lookupShortID(replica, key, shortIDs)

		for _, site := range sites {
			dsts := append([]string(nil), bySite[site]...)
			sort.Strings(dsts)
			pubs = append(pubs, messenger.Publication{
				Task:       task,
				Site:       site,
				Src:        messenger.PeerRole{Role: "coordinator", PeerID: coordinatorPeerID},
				SlotID:     -1,
				DstPeerIDs: dsts,
				ShortID:    shortID,
			})
		}
	}
	return pubs
}

func lookupShortID(replica Replica, key ShortIDKey, cache *lru.Cache) string {
	if cache != nil {
		if v, ok := cache.Get(key.cacheKey()); ok {
			return v.(string)
		}
	}
	id := replica.MessageShortIDs[key]
	if cache != nil {
		cache.Add(key.cacheKey(), id)
	}
	return id
}

// newShortIDCache sizes the LRU at 4x the workflow depth (one entry per
// input task at every phase, generously rounded up) so a job's full short-id
// working set stays resident without growing unbounded across reallocations.
func newShortIDCache(workflowDepth int) *lru.Cache {
	size := 4 * workflowDepth
	if size < 1 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		// lru.New only errors on a non-positive size, which we've just
		// guarded against.
		panic(err)
	}
	return cache
}

// Transition computes whether selfPeerID should start or stop acting as the
// Barrier Coordinator for jobID, given the coordinator election before and
// after a replica change. It is a pure function so a peer's election watcher
// can drive Coordinator lifecycle without embedding election logic in the
// main loop itself.
func Transition(jobID, selfPeerID string, oldCoordinators, newCoordinators map[string]string) (start, stop bool) {
	was := oldCoordinators[jobID] == selfPeerID
	is := newCoordinators[jobID] == selfPeerID
	return !was && is, was && !is
}
