// Package messenger implements the Barrier Coordinator's publisher set: the
// thin HTTP/JSON fan-out used to push heartbeats and barrier offers to a
// job's input publications. The wire format of what actually flows between
// peers (segment transport) is explicitly out of scope per spec.md's
// Non-goals; this package only carries the barrier control messages, reusing
// the teacher's existing inter-node HTTP/JSON helper for exactly the job it
// already does.
package messenger
