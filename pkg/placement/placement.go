// Package placement supplies the pluggable node-placement policy the
// reconciliation pipeline delegates target selection to, along with the
// Target Selector logic that computes the "used" and "excluded" node sets
// a policy reasons about.
package placement

import (
	"sort"

	"github.com/cuemby/scm-reconciler/pkg/errkind"
	"github.com/cuemby/scm-reconciler/pkg/log"
	"github.com/cuemby/scm-reconciler/pkg/types"
)

// Policy is the capability set a placement implementation exposes. It is
// deliberately small: choosing targets is the only operation the
// reconciliation pipeline needs, and nothing here assumes a particular
// topology model.
type Policy interface {
	// Choose returns up to n datanode-ids suitable to host a new replica,
	// excluding every node in used or excluded, of approximately size
	// bytes each. A policy that can satisfy only part of the request
	// returns as many as it can rather than failing outright; it returns
	// *errkind.FailedToFindSuitableNodeError only when it can return zero.
	Choose(used, excluded map[types.DatanodeID]struct{}, n int, size int64) ([]types.DatanodeID, error)
}

// datanodeHealth abstracts the node status lookup the default policy and
// the target-selector both need.
type datanodeHealth interface {
	Lookup(id types.DatanodeID) (types.DatanodeStatus, bool)
	Snapshot() []types.DatanodeStatus
}

// replicaView is the subset of a replicacount view BuildTargetSets needs.
type replicaView interface {
	GetReplicas() []types.ContainerReplica
	AdditionalReplicaNeeded(nodes datanodeHealth) int
}

// BuildTargetSets derives the "used" and "excluded" node sets the Target
// Selector hands to a placement policy.
//
// used nodes are present now and will stay: replicas on IN_SERVICE or
// maintenance-bound nodes, plus the datanode targets of pending ADDs.
// excluded nodes must not be picked and must not influence topology
// reasoning: replicas on DECOMMISSIONING nodes, UNHEALTHY-state replicas,
// and the datanode targets of pending DELETEs.
func BuildTargetSets(view replicaView, pendingOps []types.PendingOp, nodes datanodeHealth) (used, excluded map[types.DatanodeID]struct{}) {
	used = make(map[types.DatanodeID]struct{})
	excluded = make(map[types.DatanodeID]struct{})

	for _, r := range view.GetReplicas() {
		if r.State == types.ReplicaStateUnhealthy {
			excluded[r.DatanodeID] = struct{}{}
			continue
		}
		status, ok := nodes.Lookup(r.DatanodeID)
		if !ok {
			continue
		}
		switch status.OperationalState {
		case types.OperationalStateDecommissioning, types.OperationalStateDecommissioned:
			excluded[r.DatanodeID] = struct{}{}
		default:
			used[r.DatanodeID] = struct{}{}
		}
	}

	for _, op := range pendingOps {
		switch op.Type {
		case types.PendingOpAdd:
			used[op.DatanodeID] = struct{}{}
		case types.PendingOpDelete:
			excluded[op.DatanodeID] = struct{}{}
		}
	}

	return used, excluded
}

// ChooseTargets runs the Target Selector: it builds used/excluded from
// view and pendingOps, then delegates to policy for up to
// view.AdditionalReplicaNeeded(nodes) targets of the given nominal size.
func ChooseTargets(policy Policy, view replicaView, pendingOps []types.PendingOp, nodes datanodeHealth, size int64) ([]types.DatanodeID, error) {
	required := view.AdditionalReplicaNeeded(nodes)
	if required == 0 {
		return nil, nil
	}
	used, excluded := BuildTargetSets(view, pendingOps, nodes)
	return policy.Choose(used, excluded, required, size)
}

// SpreadPolicy is the default Policy: it spreads new replicas across
// IN_SERVICE, HEALTHY datanodes with the fewest replicas currently placed
// on them, tracked via an external replica-count source.
type SpreadPolicy struct {
	nodes datanodeHealth
	// replicaCounts reports, for a candidate datanode, how many replicas
	// (of any container) it currently hosts. Supplied by the caller so the
	// policy stays free of any dependency on a particular storage layer.
	replicaCounts func(types.DatanodeID) int
}

// NewSpreadPolicy builds a SpreadPolicy over nodes, using replicaCounts to
// rank candidates least-loaded first.
func NewSpreadPolicy(nodes datanodeHealth, replicaCounts func(types.DatanodeID) int) *SpreadPolicy {
	return &SpreadPolicy{nodes: nodes, replicaCounts: replicaCounts}
}

// Choose implements Policy by filtering to schedulable candidates —
// IN_SERVICE and HEALTHY, not in used or excluded — and picking the n with
// the fewest replicas already assigned, lowest datanode-id breaking ties
// for determinism.
func (p *SpreadPolicy) Choose(used, excluded map[types.DatanodeID]struct{}, n int, size int64) ([]types.DatanodeID, error) {
	logger := log.WithComponent("placement")

	type candidate struct {
		id    types.DatanodeID
		count int
	}
	var candidates []candidate
	for _, status := range p.nodes.Snapshot() {
		if status.OperationalState != types.OperationalStateInService {
			continue
		}
		if !status.IsHealthy() {
			continue
		}
		if _, skip := used[status.ID]; skip {
			continue
		}
		if _, skip := excluded[status.ID]; skip {
			continue
		}
		candidates = append(candidates, candidate{id: status.ID, count: p.replicaCounts(status.ID)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].id < candidates[j].id
	})

	if len(candidates) == 0 {
		logger.Warn().Int("requested", n).Msg("no schedulable datanode found for placement")
		return nil, &errkind.FailedToFindSuitableNodeError{Requested: n}
	}

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]types.DatanodeID, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.id)
	}
	return out, nil
}
