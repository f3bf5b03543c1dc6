package syncstore

import "errors"

// ErrNotFound is returned by ReadPlace, TouchPlace, and Delete when the
// path doesn't exist.
var ErrNotFound = errors.New("syncstore: not found")

// ErrConflict is returned by Create if asked to mint a path that somehow
// already exists (practically unreachable with the shortid generator, but
// part of the contract so adapters backed by a real coordination service
// have somewhere to surface it).
var ErrConflict = errors.New("syncstore: conflict")

// Kind tags a path with the role it plays, per spec.md's create(kind)
// contract.
type Kind string

const (
	KindPeer       Kind = "peer"
	KindPulse      Kind = "pulse"
	KindShutdown   Kind = "shutdown"
	KindPayload    Kind = "payload"
	KindAck        Kind = "ack"
	KindStatus     Kind = "status"
	KindCompletion Kind = "completion"
)

// Change is the kind of mutation a watch callback observed.
type Change string

const (
	ChangeWritten Change = "written"
	ChangeTouched Change = "touched"
	ChangeDeleted Change = "deleted"
)

// Event is delivered to a registered watch callback.
type Event struct {
	Path   string
	Kind   Kind
	Change Change
}

// WatchFunc is a one-shot or repeated watch callback. It must not block —
// the store invokes it synchronously from the goroutine that performed the
// mutation, serialized per path.
type WatchFunc func(Event)

// CancelFunc unregisters a previously-registered watch. Safe to call more
// than once.
type CancelFunc func()

// Store is the sync store contract from spec.md §4.1.
type Store interface {
	Create(kind Kind) (path string, err error)
	WritePlace(path string, value []byte) error
	ReadPlace(path string) ([]byte, error)
	TouchPlace(path string) error
	Delete(path string) error
	OnChange(path string, cb WatchFunc) CancelFunc
}
