// Package nodestatus tracks datanode liveness from heartbeats and serves
// the node status cache the reconciliation handler queries via Lookup.
package nodestatus

import (
	"sync"
	"time"

	"github.com/cuemby/scm-reconciler/pkg/types"
)

// Config controls how a missed-heartbeat gap is classified.
type Config struct {
	// StaleAfter is how long since the last heartbeat before a node is
	// downgraded from HEALTHY to STALE.
	StaleAfter time.Duration

	// DeadAfter is how long since the last heartbeat before a node is
	// downgraded to DEAD. Must be greater than StaleAfter.
	DeadAfter time.Duration
}

// DefaultConfig mirrors the teacher's 30-second down detection, split into
// an intermediate STALE tier the spec's health enum requires.
func DefaultConfig() Config {
	return Config{
		StaleAfter: 15 * time.Second,
		DeadAfter:  30 * time.Second,
	}
}

// entry is the cache's internal per-node record.
type entry struct {
	operational   types.OperationalState
	lastHeartbeat time.Time
}

// Cache is a thread-safe, in-memory node status cache. It is the
// "cached lookup, non-blocking in practice" collaborator the handler's
// concurrency model assumes for getNodeStatus.
type Cache struct {
	mu    sync.RWMutex
	cfg   Config
	nodes map[types.DatanodeID]entry
	clock func() time.Time
}

// New creates an empty Cache.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:   cfg,
		nodes: make(map[types.DatanodeID]entry),
		clock: time.Now,
	}
}

// Heartbeat records a heartbeat from a datanode, along with its currently
// reported operational state (IN_SERVICE, DECOMMISSIONING, ...).
func (c *Cache) Heartbeat(id types.DatanodeID, operational types.OperationalState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[id] = entry{operational: operational, lastHeartbeat: c.clock()}
}

// SetOperationalState updates a node's operational state without implying
// a fresh heartbeat — used when an operator initiates decommission or
// maintenance out of band.
func (c *Cache) SetOperationalState(id types.DatanodeID, operational types.OperationalState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.nodes[id]
	if !ok {
		e = entry{lastHeartbeat: c.clock()}
	}
	e.operational = operational
	c.nodes[id] = e
}

// Lookup returns the current DatanodeStatus for id. The second return
// value is false when the node has never been seen — callers (the
// handler, via its collaborators) treat a miss as "unhealthy, skip"
// without propagating an error, per the handler's NodeNotFound contract.
func (c *Cache) Lookup(id types.DatanodeID) (types.DatanodeStatus, bool) {
	c.mu.RLock()
	e, ok := c.nodes[id]
	c.mu.RUnlock()
	if !ok {
		return types.DatanodeStatus{}, false
	}

	now := c.clock()
	age := now.Sub(e.lastHeartbeat)
	health := types.NodeHealthHealthy
	switch {
	case age >= c.cfg.DeadAfter:
		health = types.NodeHealthDead
	case age >= c.cfg.StaleAfter:
		health = types.NodeHealthStale
	}

	return types.DatanodeStatus{
		ID:               id,
		OperationalState: e.operational,
		Health:           health,
		LastHeartbeat:    e.lastHeartbeat,
	}, true
}

// Snapshot returns the status of every known node, for diagnostics and for
// the placement policy's topology-wide reasoning.
func (c *Cache) Snapshot() []types.DatanodeStatus {
	c.mu.RLock()
	ids := make([]types.DatanodeID, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	out := make([]types.DatanodeStatus, 0, len(ids))
	for _, id := range ids {
		if status, ok := c.Lookup(id); ok {
			out = append(out, status)
		}
	}
	return out
}
