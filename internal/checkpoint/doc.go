// Package checkpoint implements the strongly-consistent checkpoint
// coordinate store described by spec.md §4.4 and §6: a per-(tenancy,job)
// value written with optimistic concurrency, where a losing writer gets
// ErrBadVersion rather than clobbering a concurrent winner.
//
// This is the teacher's internal/storage.Store, adapted: the same
// sync.RWMutex-guarded map shape, but Put becomes PutCAS and every value
// carries a monotonically increasing version stamp instead of being a bare
// key-value pair.
package checkpoint
