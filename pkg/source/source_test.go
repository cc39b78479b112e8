package source

import (
	"testing"

	"github.com/cuemby/scm-reconciler/pkg/nodestatus"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/stretchr/testify/assert"
)

type fakeView struct {
	replicas []types.ContainerReplica
	healthy  int
}

func (f fakeView) GetReplicas() []types.ContainerReplica              { return f.replicas }
func (f fakeView) GetHealthyReplicaCount(datanodeHealth) int { return f.healthy }

func healthyNodes(ids ...types.DatanodeID) *nodestatus.Cache {
	c := nodestatus.New(nodestatus.DefaultConfig())
	for _, id := range ids {
		c.Heartbeat(id, types.OperationalStateInService)
	}
	return c
}

func TestSelect_PrefersClosedOverQuasiClosed(t *testing.T) {
	nodes := healthyNodes("n1", "n2")
	view := fakeView{
		healthy: 1,
		replicas: []types.ContainerReplica{
			{DatanodeID: "n1", State: types.ReplicaStateClosed},
			{DatanodeID: "n2", State: types.ReplicaStateQuasiClosed},
		},
	}
	got := Select(types.Container{State: types.ContainerStateClosed}, view, nil, nodes)
	assert.Equal(t, []types.DatanodeID{"n1"}, got)
}

func TestSelect_QuasiClosedAcceptedWhenContainerQuasiClosed(t *testing.T) {
	nodes := healthyNodes("n1")
	view := fakeView{
		healthy:  1,
		replicas: []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateQuasiClosed}},
	}
	got := Select(types.Container{State: types.ContainerStateQuasiClosed}, view, nil, nodes)
	assert.Equal(t, []types.DatanodeID{"n1"}, got)
}

func TestSelect_UnhealthyAcceptedOnlyAsLastResort(t *testing.T) {
	nodes := healthyNodes("n1")
	view := fakeView{
		healthy:  0,
		replicas: []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateUnhealthy}},
	}
	got := Select(types.Container{}, view, nil, nodes)
	assert.Equal(t, []types.DatanodeID{"n1"}, got)
}

func TestSelect_ExcludesPendingDeleteTargets(t *testing.T) {
	nodes := healthyNodes("n1", "n2")
	view := fakeView{
		healthy: 2,
		replicas: []types.ContainerReplica{
			{DatanodeID: "n1", State: types.ReplicaStateClosed},
			{DatanodeID: "n2", State: types.ReplicaStateClosed},
		},
	}
	pending := []types.PendingOp{{Type: types.PendingOpDelete, DatanodeID: "n1"}}
	got := Select(types.Container{}, view, pending, nodes)
	assert.Equal(t, []types.DatanodeID{"n2"}, got)
}

func TestSelect_RestrictsToMaxSequenceID(t *testing.T) {
	nodes := healthyNodes("n1", "n2")
	view := fakeView{
		healthy: 2,
		replicas: []types.ContainerReplica{
			{DatanodeID: "n1", State: types.ReplicaStateClosed, Sequence: types.SequenceID{Value: 20, Present: true}},
			{DatanodeID: "n2", State: types.ReplicaStateClosed, Sequence: types.SequenceID{Value: 19, Present: true}},
		},
	}
	got := Select(types.Container{}, view, nil, nodes)
	assert.Equal(t, []types.DatanodeID{"n1"}, got)
}

func TestSelect_SkipsUnhealthyDatanodes(t *testing.T) {
	nodes := nodestatus.New(nodestatus.DefaultConfig())
	nodes.Heartbeat("n1", types.OperationalStateInService)
	view := fakeView{
		healthy:  1,
		replicas: []types.ContainerReplica{{DatanodeID: "n2", State: types.ReplicaStateClosed}},
	}
	got := Select(types.Container{}, view, nil, nodes)
	assert.Nil(t, got)
}
