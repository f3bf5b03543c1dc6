package syncstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/teris-io/shortid"
)

// entry is one path's current value plus its watch registrations. It owns
// its own mutex so that a mutation and the dispatch of its watchers happen
// as one atomic, serialized step per path — this is what gives OnChange its
// per-path ordering guarantee without needing a dedicated dispatcher
// goroutine for the synchronous paths (WritePlace/TouchPlace/Delete).
type entry struct {
	mu         sync.Mutex
	kind       Kind
	value      []byte
	version    uint64
	lastTouch  time.Time
	watchers   []watcher
	nextWathID uint64
}

type watcher struct {
	id uint64
	cb WatchFunc
}

// Memory is an in-process implementation of Store. It never persists
// anything to disk — restarting the process loses every path, which is
// exactly right for ephemeral membership/ack/completion bookkeeping.
type Memory struct {
	mu      sync.RWMutex
	paths   map[string]*entry
	sid     *shortid.Shortid
	sidSeed uint64
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	sid, err := shortid.New(1, shortid.DefaultABC, 1)
	if err != nil {
		// shortid.New only fails for an out-of-range worker/seed, which are
		// both constants here.
		panic(fmt.Sprintf("syncstore: failed to construct id generator: %v", err))
	}
	return &Memory{
		paths: make(map[string]*entry),
		sid:   sid,
	}
}

// Create mints a fresh, never-before-seen path tagged with kind.
func (m *Memory) Create(kind Kind) (string, error) {
	id, err := m.sid.Generate()
	if err != nil {
		return "", fmt.Errorf("syncstore: generate id: %w", err)
	}
	path := fmt.Sprintf("%s-%s", kind, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.paths[path]; exists {
		return "", ErrConflict
	}
	m.paths[path] = &entry{kind: kind, lastTouch: time.Now()}
	return path, nil
}

func (m *Memory) lookup(path string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.paths[path]
	return e, ok
}

// WritePlace idempotently writes value to path. Unlike Create, it never
// fails for a missing path — spec.md allows write-place to also serve as
// the initial write immediately following Create.
func (m *Memory) WritePlace(path string, value []byte) error {
	e := m.getOrCreateRaw(path)
	e.mu.Lock()
	e.value = append([]byte(nil), value...)
	e.version++
	e.lastTouch = time.Now()
	watchers := append([]watcher(nil), e.watchers...)
	e.mu.Unlock()

	dispatch(watchers, Event{Path: path, Kind: e.kind, Change: ChangeWritten})
	return nil
}

func (m *Memory) getOrCreateRaw(path string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.paths[path]
	if !ok {
		e = &entry{lastTouch: time.Now()}
		m.paths[path] = e
	}
	return e
}

// ReadPlace returns the current value at path, or ErrNotFound.
func (m *Memory) ReadPlace(path string) ([]byte, error) {
	e, ok := m.lookup(path)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.value...), nil
}

// TouchPlace bumps path's version and fires watches without changing its
// value — this is how an ack or completion node signals the coordinator.
func (m *Memory) TouchPlace(path string) error {
	e, ok := m.lookup(path)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.version++
	e.lastTouch = time.Now()
	watchers := append([]watcher(nil), e.watchers...)
	kind := e.kind
	e.mu.Unlock()

	dispatch(watchers, Event{Path: path, Kind: kind, Change: ChangeTouched})
	return nil
}

// Delete removes path, firing a deleted event to every watcher. Deleting a
// peer's pulse path is how the system models peer death.
func (m *Memory) Delete(path string) error {
	m.mu.Lock()
	e, ok := m.paths[path]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.paths, path)
	m.mu.Unlock()

	e.mu.Lock()
	watchers := append([]watcher(nil), e.watchers...)
	kind := e.kind
	e.mu.Unlock()

	dispatch(watchers, Event{Path: path, Kind: kind, Change: ChangeDeleted})
	return nil
}

// OnChange registers cb to be invoked for every future write/touch/delete
// of path. If path does not exist yet, an empty, untagged entry is created
// for it so the watch can be recorded; ReadPlace then returns an empty value
// rather than ErrNotFound, and the watch fires on the next write, touch or
// delete.
func (m *Memory) OnChange(path string, cb WatchFunc) CancelFunc {
	e := m.getOrCreateRaw(path)
	e.mu.Lock()
	id := e.nextWathID
	e.nextWathID++
	e.watchers = append(e.watchers, watcher{id: id, cb: cb})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, w := range e.watchers {
			if w.id == id {
				e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
				break
			}
		}
	}
}

// exists reports whether path is currently present, used by PulseMonitor.
func (m *Memory) exists(path string) bool {
	_, ok := m.lookup(path)
	return ok
}

// snapshotByKind returns every currently-known path tagged with kind,
// together with the time it was last written/touched.
func (m *Memory) snapshotByKind(kind Kind) map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]time.Time)
	for path, e := range m.paths {
		if e.kind != kind {
			continue
		}
		e.mu.Lock()
		out[path] = e.lastTouch
		e.mu.Unlock()
	}
	return out
}

func dispatch(watchers []watcher, ev Event) {
	for _, w := range watchers {
		w.cb(ev)
	}
}
