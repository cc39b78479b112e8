// Package command implements the Command Emitter and its slot-freeing
// Fallback: given a set of sources and targets chosen upstream, it emits
// replication (push or pull) commands through a ReplicationManager, and,
// when no target could be found at all, attempts to free a slot by
// deleting one UNHEALTHY (or, failing that, QUASI_CLOSED) replica.
package command

import (
	"sort"

	"github.com/cuemby/scm-reconciler/pkg/errkind"
	"github.com/cuemby/scm-reconciler/pkg/log"
	"github.com/cuemby/scm-reconciler/pkg/metrics"
	"github.com/cuemby/scm-reconciler/pkg/types"
)

// Priority is the scheduling priority attached to a push command.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// ReplicationManager is the transport-facing collaborator the emitter
// depends on. A production implementation talks to datanodes over the
// command transport; tests supply a fake.
type ReplicationManager interface {
	// SendThrottledReplicationCommand asks a coordinator to pick a source
	// from sources and push the replica to target (push mode).
	SendThrottledReplicationCommand(container types.ContainerID, sources []types.DatanodeID, target types.DatanodeID, priority Priority) error

	// SendDatanodeCommand instructs target to pull the replica directly
	// from one of sources (pull mode).
	SendDatanodeCommand(container types.ContainerID, sources []types.DatanodeID, target types.DatanodeID) error

	// SendDeleteCommand instructs datanode to delete its replica of
	// container at replicaIndex. forceDelete skips the datanode's own
	// safety checks, used only by the fallback slot-freeing path.
	SendDeleteCommand(container types.ContainerID, replicaIndex int, datanode types.DatanodeID, forceDelete bool) error
}

// Config controls push-vs-pull emission and the in-flight delete budget
// the Fallback respects.
type Config struct {
	// Push selects push-mode emission (coordinator picks source and
	// pushes) over pull-mode (target pulls directly from a source).
	Push bool

	// MaxPendingDeletes caps how many pending DELETEs for a container the
	// Fallback will tolerate before it refuses to schedule another one.
	MaxPendingDeletes int
}

// Emit sends one replication command per target, returning the number the
// transport accepted. Emission stops and returns the partial count at the
// first transport error (COMMAND_TARGET_OVERLOADED, NOT_LEADER, or any
// other non-placement error) — commands already accepted stay accepted.
func Emit(mgr ReplicationManager, cfg Config, container types.ContainerID, sources []types.DatanodeID, targets []types.DatanodeID) (int, error) {
	logger := log.WithContainerID(uint64(container))
	mode := "pull"
	if cfg.Push {
		mode = "push"
	}
	accepted := 0
	for _, target := range targets {
		var err error
		if cfg.Push {
			err = mgr.SendThrottledReplicationCommand(container, sources, target, PriorityNormal)
		} else {
			err = mgr.SendDatanodeCommand(container, sources, target)
		}
		if err != nil {
			logger.Warn().Err(err).Str("target", string(target)).Msg("replication command rejected")
			metrics.ReplicationCommandsEmitted.WithLabelValues(mode).Add(float64(accepted))
			return accepted, err
		}
		accepted++
	}

	metrics.ReplicationCommandsEmitted.WithLabelValues(mode).Add(float64(accepted))
	return accepted, nil
}

// pendingDeleteCount returns how many pending DELETEs already exist for
// the container, across any replica index.
func pendingDeleteCount(pendingOps []types.PendingOp) int {
	n := 0
	for _, op := range pendingOps {
		if op.Type == types.PendingOpDelete {
			n++
		}
	}
	return n
}

// chooseFallbackVictim deterministically picks the replica the Fallback
// will delete to free a slot: UNHEALTHY is preferred over QUASI_CLOSED,
// ties broken by lowest sequence id (absent sorts first).
func chooseFallbackVictim(replicas []types.ContainerReplica) (types.ContainerReplica, bool) {
	var candidates []types.ContainerReplica
	for _, r := range replicas {
		if r.State == types.ReplicaStateUnhealthy || r.State == types.ReplicaStateQuasiClosed {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return types.ContainerReplica{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.State != b.State {
			return a.State == types.ReplicaStateUnhealthy
		}
		if a.Sequence.Present != b.Sequence.Present {
			return !a.Sequence.Present
		}
		return a.Sequence.Value < b.Sequence.Value
	})
	return candidates[0], true
}

// Fallback runs the slot-freeing step after target selection fails with
// FAILED_TO_FIND_SUITABLE_NODE: it deletes at most one UNHEALTHY (or, failing
// that, QUASI_CLOSED) replica, provided the container's pending-delete
// budget is not already exhausted. It returns true if a delete was
// scheduled. The caller re-raises the original selection error regardless
// of the outcome here.
func Fallback(mgr ReplicationManager, cfg Config, container types.ContainerID, replicas []types.ContainerReplica, pendingOps []types.PendingOp) (bool, error) {
	logger := log.WithContainerID(uint64(container))

	if pendingDeleteCount(pendingOps) >= cfg.MaxPendingDeletes {
		logger.Warn().Msg("fallback skipped: pending-delete budget exhausted")
		return false, nil
	}

	victim, ok := chooseFallbackVictim(replicas)
	if !ok {
		logger.Warn().Msg("fallback has no eligible victim to free a slot")
		return false, nil
	}

	if err := mgr.SendDeleteCommand(container, victim.ReplicaIndex, victim.DatanodeID, true); err != nil {
		return false, err
	}
	metrics.FallbackDeletesTotal.Inc()
	logger.Info().Str("datanode", string(victim.DatanodeID)).Msg("fallback scheduled replica delete to free a placement slot")
	return true, nil
}

// EmitWithPartialTracking wraps Emit, incrementing the partial-replication
// metric and returning an *errkind.InsufficientDatanodesError when fewer
// targets were obtained than needed — the orchestration layer's contract
// for "emit what you can, then ask to be re-queued."
func EmitWithPartialTracking(mgr ReplicationManager, cfg Config, container types.ContainerID, sources, targets []types.DatanodeID, needed int) (int, error) {
	accepted, err := Emit(mgr, cfg, container, sources, targets)
	if err != nil {
		return accepted, err
	}
	if len(targets) < needed {
		metrics.PartialReplicationTotal.Inc()
		return accepted, &errkind.InsufficientDatanodesError{Needed: needed, Obtained: len(targets)}
	}
	return accepted, nil
}
