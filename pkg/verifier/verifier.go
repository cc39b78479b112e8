// Package verifier decides, given two replicacount views of the same
// container, whether the container is genuinely under-replicated and, if
// so, which view the rest of the pipeline should reason about.
package verifier

import "github.com/cuemby/scm-reconciler/pkg/types"

// datanodeHealth abstracts the node status lookup the replicacount views
// need, mirroring the interface replicacount.ReplicaCount itself expects.
type datanodeHealth interface {
	Lookup(id types.DatanodeID) (types.DatanodeStatus, bool)
}

// replicaCount is the subset of *replicacount.ReplicaCount the verifier
// depends on. Declaring it locally keeps this package free of a direct
// import cycle risk and makes the decision table easy to unit test against
// a fake.
type replicaCount interface {
	GetReplicas() []types.ContainerReplica
	GetHealthyReplicaCount(nodes datanodeHealth) int
	IsSufficientlyReplicated(nodes datanodeHealth, includePending bool) bool
}

// Verify runs the under-replication decision table against the "without
// UNHEALTHY replicas" view and the "with UNHEALTHY replicas" view of the
// same container, and returns the view the rest of the reconciliation
// pipeline should act on, or nil if the container is not under-replicated.
//
// The table is evaluated top to bottom, first match wins:
//
//  1. without is sufficiently replicated, ignoring pending ops  -> nil
//  2. without is sufficiently replicated, including pending ops -> nil
//  3. with has no replicas at all                                -> nil
//  4. with is sufficiently replicated including pending ops,
//     but with has zero healthy replicas                         -> nil
//  5. without has at least one healthy replica                   -> without
//  6. otherwise                                                  -> with
func Verify(without, with replicaCount, nodes datanodeHealth) replicaCount {
	if without.IsSufficientlyReplicated(nodes, false) {
		return nil
	}
	if without.IsSufficientlyReplicated(nodes, true) {
		return nil
	}
	if len(with.GetReplicas()) == 0 {
		return nil
	}
	if with.IsSufficientlyReplicated(nodes, true) && with.GetHealthyReplicaCount(nodes) == 0 {
		return nil
	}
	if without.GetHealthyReplicaCount(nodes) > 0 {
		return without
	}
	return with
}
