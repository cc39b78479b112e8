// Package nodestatus caches datanode heartbeats and derives HEALTHY,
// STALE, and DEAD liveness tiers from the gap since the last heartbeat.
// Every other component that needs to know whether a datanode is
// reachable right now — the ReplicaCount Calculator, the Source Selector,
// the Target Selector's placement policy — goes through this cache
// rather than querying a datanode directly.
package nodestatus
