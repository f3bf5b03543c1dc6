// Package barrier implements the Per-Job Barrier Coordinator of spec.md
// §4.4: one long-lived worker per job, elected from among its peers, that
// drives the barrier/epoch protocol across the job's input publications and
// persists checkpoint coordinates with optimistic concurrency.
package barrier
