// Package syncstore implements the ephemeral, watchable key-value namespace
// described by spec.md §4.1: peer pulses, shutdown flags, and per-offer
// payload/ack/status/completion nodes all live here, never in the fact
// store.
//
// Memory is the only adapter provided — an in-process, mutex-guarded map.
// Liveness of a pulse path is driven by an explicit Delete (tests, or a
// peer's own clean shutdown) or by PulseMonitor, which expires pulses that
// haven't been touched within a TTL, standing in for a real ensemble's
// session-timeout behavior.
package syncstore
