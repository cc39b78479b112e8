// Package source selects the datanodes eligible to serve as copy sources
// for an under-replicated container.
package source

import "github.com/cuemby/scm-reconciler/pkg/types"

// datanodeHealth abstracts the node status lookup Select needs.
type datanodeHealth interface {
	Lookup(id types.DatanodeID) (types.DatanodeStatus, bool)
}

// replicaView is the subset of a replicacount view Select depends on.
type replicaView interface {
	GetReplicas() []types.ContainerReplica
	GetHealthyReplicaCount(nodes datanodeHealth) int
}

// pendingDeleteTargets returns the set of datanodes carrying a pending
// DELETE for the container, ineligible as sources regardless of the
// replica state they currently report.
func pendingDeleteTargets(pendingOps []types.PendingOp) map[types.DatanodeID]struct{} {
	out := make(map[types.DatanodeID]struct{})
	for _, op := range pendingOps {
		if op.Type == types.PendingOpDelete {
			out[op.DatanodeID] = struct{}{}
		}
	}
	return out
}

// accepts implements the Source Selector's acceptance predicate: CLOSED is
// always accepted; QUASI_CLOSED is accepted when no CLOSED replica exists
// anywhere in the view or the container itself is QUASI_CLOSED; UNHEALTHY
// is accepted only as a last resort, when the view has no healthy replica.
func accepts(r types.ContainerReplica, container types.Container, hasClosed bool, healthyCount int) bool {
	switch r.State {
	case types.ReplicaStateClosed:
		return true
	case types.ReplicaStateQuasiClosed:
		return !hasClosed || container.State == types.ContainerStateQuasiClosed
	case types.ReplicaStateUnhealthy:
		return healthyCount == 0
	default:
		return false
	}
}

// Select returns, in input order, the datanode-ids of replicas eligible to
// serve as copy sources for container under view, restricted to the
// maximum sequence id present among the eligible replicas.
func Select(container types.Container, view replicaView, pendingOps []types.PendingOp, nodes datanodeHealth) []types.DatanodeID {
	replicas := view.GetReplicas()
	deleting := pendingDeleteTargets(pendingOps)
	healthyCount := view.GetHealthyReplicaCount(nodes)

	hasClosed := false
	for _, r := range replicas {
		if r.State == types.ReplicaStateClosed {
			hasClosed = true
			break
		}
	}

	type candidate struct {
		datanode types.DatanodeID
		seq      types.SequenceID
	}
	var survivors []candidate
	for _, r := range replicas {
		if !accepts(r, container, hasClosed, healthyCount) {
			continue
		}
		if _, deleted := deleting[r.DatanodeID]; deleted {
			continue
		}
		status, ok := nodes.Lookup(r.DatanodeID)
		if !ok || status.Health != types.NodeHealthHealthy {
			continue
		}
		survivors = append(survivors, candidate{datanode: r.DatanodeID, seq: r.Sequence})
	}

	anySeq := false
	var maxSeq uint64
	for _, c := range survivors {
		if c.seq.Present {
			anySeq = true
			if c.seq.Value > maxSeq {
				maxSeq = c.seq.Value
			}
		}
	}

	var out []types.DatanodeID
	for _, c := range survivors {
		if anySeq {
			if !c.seq.Present || c.seq.Value != maxSeq {
				continue
			}
		}
		out = append(out, c.datanode)
	}
	return out
}
