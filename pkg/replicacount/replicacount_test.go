package replicacount

import (
	"testing"

	"github.com/cuemby/scm-reconciler/pkg/nodestatus"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/stretchr/testify/assert"
)

func nodesWith(states map[types.DatanodeID]types.OperationalState) *nodestatus.Cache {
	c := nodestatus.New(nodestatus.DefaultConfig())
	for id, op := range states {
		c.Heartbeat(id, op)
	}
	return c
}

func container(factor int) types.Container {
	return types.Container{ID: 1, State: types.ContainerStateClosed, ReplicationFactor: factor}
}

func TestAdditionalReplicaNeeded_Basic(t *testing.T) {
	nodes := nodesWith(map[types.DatanodeID]types.OperationalState{
		"n1": types.OperationalStateInService,
	})
	replicas := []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateClosed}}
	rc := New(container(3), replicas, nil, 2, false)

	assert.Equal(t, 2, rc.AdditionalReplicaNeeded(nodes))
}

func TestAdditionalReplicaNeeded_MaintenanceCorrection(t *testing.T) {
	nodes := nodesWith(map[types.DatanodeID]types.OperationalState{
		"n1": types.OperationalStateInMaintenance,
		"n2": types.OperationalStateInService,
		"n3": types.OperationalStateInService,
	})
	replicas := []types.ContainerReplica{
		{DatanodeID: "n1", State: types.ReplicaStateClosed},
		{DatanodeID: "n2", State: types.ReplicaStateClosed},
		{DatanodeID: "n3", State: types.ReplicaStateClosed},
	}
	// factor 3, one replica draining to maintenance, minHealthyForMaintenance 3
	// -> targetHealthy = max(3-1, 3) = 3, effectiveAvailable excludes n1 (maintenance) = 2
	// -> AdditionalReplicaNeeded = 3 - 2 = 1
	rc := New(container(3), replicas, nil, 3, false)
	assert.Equal(t, 1, rc.AdditionalReplicaNeeded(nodes))
}

func TestAdditionalReplicaNeeded_DecommissioningExcludedFromAvailable(t *testing.T) {
	nodes := nodesWith(map[types.DatanodeID]types.OperationalState{
		"n1": types.OperationalStateDecommissioning,
		"n2": types.OperationalStateInService,
		"n3": types.OperationalStateInService,
	})
	replicas := []types.ContainerReplica{
		{DatanodeID: "n1", State: types.ReplicaStateClosed},
		{DatanodeID: "n2", State: types.ReplicaStateClosed},
		{DatanodeID: "n3", State: types.ReplicaStateClosed},
	}
	// factor 3, minHealthyForMaintenance 2, n1's replica cannot be relied
	// on while draining -> effectiveAvailable = 2, targetHealthy = 3
	rc := New(container(3), replicas, nil, 2, false)

	assert.Equal(t, 1, rc.AdditionalReplicaNeeded(nodes))
}

func TestGetHealthyReplicaCount_DecommissioningCountsIfHealthy(t *testing.T) {
	nodes := nodesWith(map[types.DatanodeID]types.OperationalState{
		"n1": types.OperationalStateDecommissioning,
	})
	replicas := []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateClosed}}
	rc := New(container(3), replicas, nil, 2, false)

	assert.Equal(t, 1, rc.GetHealthyReplicaCount(nodes))
}

func TestIsSufficientlyReplicated_PendingAddDedup(t *testing.T) {
	nodes := nodesWith(map[types.DatanodeID]types.OperationalState{
		"n1": types.OperationalStateInService,
		"n2": types.OperationalStateInService,
		"n3": types.OperationalStateInService,
	})
	replicas := []types.ContainerReplica{
		{DatanodeID: "n1", State: types.ReplicaStateClosed},
		{DatanodeID: "n2", State: types.ReplicaStateClosed},
	}
	pending := []types.PendingOp{
		{Type: types.PendingOpAdd, DatanodeID: "n2"}, // already has a replica, must not double-count
		{Type: types.PendingOpAdd, DatanodeID: "n3"},
	}
	rc := New(container(3), replicas, pending, 2, false)

	assert.False(t, rc.IsSufficientlyReplicated(nodes, false))
	assert.True(t, rc.IsSufficientlyReplicated(nodes, true))
}

func TestConsiderUnhealthy(t *testing.T) {
	nodes := nodesWith(map[types.DatanodeID]types.OperationalState{
		"n1": types.OperationalStateInService,
	})
	replicas := []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateUnhealthy}}

	without := New(container(3), replicas, nil, 2, false)
	assert.Equal(t, 3, without.AdditionalReplicaNeeded(nodes))

	with := New(container(3), replicas, nil, 2, true)
	assert.Equal(t, 2, with.AdditionalReplicaNeeded(nodes))
}
