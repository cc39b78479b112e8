// Package replicacount computes how many additional healthy replicas a
// container needs, given its current replica set, any pending operations
// already in flight, and the maintenance policy in effect.
package replicacount

import "github.com/cuemby/scm-reconciler/pkg/types"

// ReplicaCount is an immutable view over a container's replicas, computed
// up front under one of two counting modes: consider UNHEALTHY replicas as
// available (last-resort propagation) or not.
type ReplicaCount struct {
	container                types.Container
	replicas                 []types.ContainerReplica
	pendingOps                []types.PendingOp
	minHealthyForMaintenance int
	considerUnhealthy        bool
}

// New builds a ReplicaCount view. The inputs are caller-owned snapshots;
// New does not retain slices past construction beyond copying them.
func New(container types.Container, replicas []types.ContainerReplica, pendingOps []types.PendingOp, minHealthyForMaintenance int, considerUnhealthy bool) *ReplicaCount {
	rc := &ReplicaCount{
		container:                container,
		minHealthyForMaintenance: minHealthyForMaintenance,
		considerUnhealthy:        considerUnhealthy,
	}
	rc.replicas = append(rc.replicas, replicas...)
	rc.pendingOps = append(rc.pendingOps, pendingOps...)
	return rc
}

// GetReplicas returns the immutable snapshot of input replicas.
func (rc *ReplicaCount) GetReplicas() []types.ContainerReplica {
	return rc.replicas
}

func isClosedFamily(s types.ReplicaState) bool {
	return s == types.ReplicaStateClosed || s == types.ReplicaStateQuasiClosed
}

func isMaintenance(s types.OperationalState) bool {
	return s == types.OperationalStateEnteringMaintenance || s == types.OperationalStateInMaintenance
}

// datanodeHealth abstracts the node status lookup the ReplicaCount needs.
// It is satisfied by the node status cache; a lookup miss is treated here
// as an unhealthy node and skipped, never propagated.
type datanodeHealth interface {
	Lookup(id types.DatanodeID) (types.DatanodeStatus, bool)
}

// GetHealthyReplicaCount returns the number of CLOSED/QUASI_CLOSED
// replicas living on IN_SERVICE nodes, or on DECOMMISSIONING nodes that
// are still HEALTHY.
func (rc *ReplicaCount) GetHealthyReplicaCount(nodes datanodeHealth) int {
	count := 0
	for _, r := range rc.replicas {
		if !isClosedFamily(r.State) {
			continue
		}
		status, ok := nodes.Lookup(r.DatanodeID)
		if !ok || !status.IsHealthy() {
			continue
		}
		if status.OperationalState == types.OperationalStateInService ||
			status.OperationalState == types.OperationalStateDecommissioning {
			count++
		}
	}
	return count
}

// effectiveAvailable counts CLOSED/QUASI_CLOSED replicas on IN_SERVICE
// nodes, plus — when considerUnhealthy is set — UNHEALTHY replicas on any
// IN_SERVICE node the status cache reports HEALTHY. Maintenance-state
// replicas are deliberately excluded here; they are present now but will
// become unavailable soon, which is exactly what targetHealthy's
// maintenance correction accounts for. DECOMMISSIONING replicas are
// excluded too: a draining node's replica cannot be relied on to persist,
// even while it is still reachable as a replication source.
func (rc *ReplicaCount) effectiveAvailable(nodes datanodeHealth) int {
	count := 0
	for _, r := range rc.replicas {
		status, ok := nodes.Lookup(r.DatanodeID)
		if !ok || !status.IsHealthy() {
			continue
		}
		if status.OperationalState != types.OperationalStateInService {
			continue
		}
		switch {
		case isClosedFamily(r.State):
			count++
		case r.State == types.ReplicaStateUnhealthy && rc.considerUnhealthy:
			count++
		}
	}
	return count
}

// maintenanceReplicaCount returns how many replicas sit on datanodes
// currently ENTERING_MAINTENANCE or IN_MAINTENANCE.
func (rc *ReplicaCount) maintenanceReplicaCount(nodes datanodeHealth) int {
	count := 0
	for _, r := range rc.replicas {
		status, ok := nodes.Lookup(r.DatanodeID)
		if !ok {
			continue
		}
		if isMaintenance(status.OperationalState) {
			count++
		}
	}
	return count
}

// targetHealthy is the replication factor adjusted by the maintenance
// policy. With k replicas draining to maintenance, the remaining
// replicas must cover both the shortfall the draining nodes leave behind
// (replicationFactor - k) and the floor of minHealthyForMaintenance
// healthy replicas on non-maintenance nodes — whichever demands more:
//
//	need = max(replicationFactor - (effectiveAvailable + k), minHealthyForMaintenance - effectiveAvailable)
//	     = max(replicationFactor - k, minHealthyForMaintenance) - effectiveAvailable
//
// targetHealthy returns the minuend of that second form, so
// AdditionalReplicaNeeded only has to subtract effectiveAvailable once.
func (rc *ReplicaCount) targetHealthy(nodes datanodeHealth) int {
	k := rc.maintenanceReplicaCount(nodes)
	required := rc.container.ReplicationFactor - k
	if rc.minHealthyForMaintenance > required {
		return rc.minHealthyForMaintenance
	}
	return required
}

// AdditionalReplicaNeeded returns max(0, targetHealthy - effectiveAvailable).
func (rc *ReplicaCount) AdditionalReplicaNeeded(nodes datanodeHealth) int {
	need := rc.targetHealthy(nodes) - rc.effectiveAvailable(nodes)
	if need < 0 {
		return 0
	}
	return need
}

// pendingAddDatanodes returns the set of datanode IDs with a pending ADD,
// excluding those that already host a replica for this container — a
// physical datanode is never counted twice when summing effectiveAvailable
// and pending ADDs, regardless of how many records name it.
func (rc *ReplicaCount) pendingAddDatanodes() map[types.DatanodeID]struct{} {
	existing := make(map[types.DatanodeID]struct{}, len(rc.replicas))
	for _, r := range rc.replicas {
		existing[r.DatanodeID] = struct{}{}
	}
	pending := make(map[types.DatanodeID]struct{})
	for _, op := range rc.pendingOps {
		if op.Type != types.PendingOpAdd {
			continue
		}
		if _, already := existing[op.DatanodeID]; already {
			continue
		}
		pending[op.DatanodeID] = struct{}{}
	}
	return pending
}

// IsSufficientlyReplicated reports whether the container already has (or
// will have once pending ADDs land) at least targetHealthy replicas.
func (rc *ReplicaCount) IsSufficientlyReplicated(nodes datanodeHealth, includePending bool) bool {
	available := rc.effectiveAvailable(nodes)
	if includePending {
		available += len(rc.pendingAddDatanodes())
	}
	return available >= rc.targetHealthy(nodes)
}
