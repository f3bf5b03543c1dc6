// Package factstore implements the transactional, time-travel-capable fact
// store contract from spec.md §4.2: durable Peer/Job/Task facts, queried
// through a handful of named operations rather than a general datalog
// evaluator (the core makes no scheduling-policy decisions beyond "next
// essential task" ordering, so that's all the query surface it needs).
//
// Store is backed by github.com/dgraph-io/badger/v4. Every mutating
// operation appends one event to an append-only log, persisted through a
// real Badger transaction for durability and replayed in-memory to answer
// DB, History, and AsOf without re-reading Badger on every call. Peer death
// is modeled as retraction — the peer disappears from DB's view but
// survives, flagged, in History's — matching the ownership rule that the
// fact store exclusively owns durable Peer/Job/Task facts.
package factstore
