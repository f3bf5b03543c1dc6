// Package coordinator implements the Cluster Coordinator of spec.md §4.3: a
// single-process component exposing bounded input channels (peer birth and
// death, job planning, ack, completion, revoke) and a set of multiplexed
// broadcast channels (offer, ack, completion, evict, shutdown, failure).
// Each input channel is drained by one dedicated cooperative worker; workers
// never share mutable memory except through the fact store and sync store.
package coordinator
