package verifier

import (
	"testing"

	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/stretchr/testify/assert"
)

type fakeCount struct {
	replicas       []types.ContainerReplica
	healthy        int
	sufficientNoP  bool
	sufficientWithP bool
}

func (f fakeCount) GetReplicas() []types.ContainerReplica { return f.replicas }
func (f fakeCount) GetHealthyReplicaCount(datanodeHealth) int { return f.healthy }
func (f fakeCount) IsSufficientlyReplicated(nodes datanodeHealth, includePending bool) bool {
	if includePending {
		return f.sufficientWithP
	}
	return f.sufficientNoP
}

type fakeNodes struct{}

func (fakeNodes) Lookup(types.DatanodeID) (types.DatanodeStatus, bool) { return types.DatanodeStatus{}, false }

func TestVerify_AlreadySufficient(t *testing.T) {
	without := fakeCount{sufficientNoP: true}
	with := fakeCount{}
	assert.Nil(t, Verify(without, with, fakeNodes{}))
}

func TestVerify_PendingAddsWillFix(t *testing.T) {
	without := fakeCount{sufficientWithP: true}
	with := fakeCount{}
	assert.Nil(t, Verify(without, with, fakeNodes{}))
}

func TestVerify_Unrecoverable(t *testing.T) {
	without := fakeCount{}
	with := fakeCount{replicas: nil}
	assert.Nil(t, Verify(without, with, fakeNodes{}))
}

func TestVerify_SufficientPendingButNoHealthy(t *testing.T) {
	without := fakeCount{}
	with := fakeCount{
		replicas:        []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateUnhealthy}},
		sufficientWithP: true,
		healthy:         0,
	}
	assert.Nil(t, Verify(without, with, fakeNodes{}))
}

func TestVerify_ReturnsWithoutWhenHealthy(t *testing.T) {
	without := fakeCount{
		replicas: []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateClosed}},
		healthy:  1,
	}
	with := fakeCount{replicas: without.replicas}
	got := Verify(without, with, fakeNodes{})
	assert.Equal(t, without, got)
}

func TestVerify_ReturnsWithWhenNoHealthyWithout(t *testing.T) {
	without := fakeCount{
		replicas: []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateUnhealthy}},
		healthy:  0,
	}
	with := fakeCount{
		replicas: without.replicas,
		healthy:  0,
	}
	got := Verify(without, with, fakeNodes{})
	assert.Equal(t, with, got)
}
