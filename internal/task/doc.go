// Package task models the planning-time entities of a job's workflow: the
// catalog of task descriptors submitted by a client, the workflow DAG that
// wires them together, and the Task records the planner derives from both.
//
// Planning never executes task business logic (that is a peer's concern,
// out of scope here) — it only computes, for each catalog entry, a
// topological phase and the set of ingress/egress queue names a peer needs
// to know about when it later receives the task as an offer.
package task
