// Package cluster provides the small set of wire-level helpers shared by
// the messenger and the HTTP front door: a timeout-bounded JSON client and
// the PeerRef value used to address a peer by (id, addr).
//
// Everything heavier — membership, health, shard assignment — lives in
// internal/coordinator, internal/syncstore, and internal/task now; this
// package only survives as the transport plumbing underneath them.
package cluster
