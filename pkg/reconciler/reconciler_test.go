package reconciler

import (
	"testing"

	"github.com/cuemby/scm-reconciler/pkg/command"
	"github.com/cuemby/scm-reconciler/pkg/errkind"
	"github.com/cuemby/scm-reconciler/pkg/nodestatus"
	"github.com/cuemby/scm-reconciler/pkg/placement"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReplicationManager records every command Process sends it, so a
// scenario can assert not just how many commands were accepted but which
// datanodes they targeted and sourced from.
type fakeReplicationManager struct {
	pushTargets   []types.DatanodeID
	pushSources   [][]types.DatanodeID
	pullTargets   []types.DatanodeID
	pullSources   [][]types.DatanodeID
	deleteTargets []types.DatanodeID
}

func (f *fakeReplicationManager) SendThrottledReplicationCommand(_ types.ContainerID, sources []types.DatanodeID, target types.DatanodeID, _ command.Priority) error {
	f.pushTargets = append(f.pushTargets, target)
	f.pushSources = append(f.pushSources, sources)
	return nil
}

func (f *fakeReplicationManager) SendDatanodeCommand(_ types.ContainerID, sources []types.DatanodeID, target types.DatanodeID) error {
	f.pullTargets = append(f.pullTargets, target)
	f.pullSources = append(f.pullSources, sources)
	return nil
}

func (f *fakeReplicationManager) SendDeleteCommand(_ types.ContainerID, _ int, datanode types.DatanodeID, _ bool) error {
	f.deleteTargets = append(f.deleteTargets, datanode)
	return nil
}

func (f *fakeReplicationManager) allTargets() []types.DatanodeID {
	return append(append([]types.DatanodeID{}, f.pushTargets...), f.pullTargets...)
}

func (f *fakeReplicationManager) allSources() []types.DatanodeID {
	var out []types.DatanodeID
	for _, s := range append(f.pushSources, f.pullSources...) {
		out = append(out, s...)
	}
	return out
}

// newHandler builds a Handler wired with a real node status cache and a
// real SpreadPolicy with no load-based tie-break (every candidate reports
// zero replicas elsewhere, so ties break on datanode id alone).
func newHandler(nodes *nodestatus.Cache, mgr *fakeReplicationManager) *Handler {
	policy := placement.NewSpreadPolicy(nodes, func(types.DatanodeID) int { return 0 })
	return NewHandler(nodes, policy, mgr, Config{
		ContainerSizeBytes: 5 << 30,
		PushReplication:    true,
		MaxPendingDeletes:  1,
	})
}

func contains(ids []types.DatanodeID, id types.DatanodeID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Scenarios 1-10 are the literal table: each sets up a container, its
// current replicas, pending ops, and a fixed datanode roster, then checks
// the number of commands Process accepts and, where the table calls out a
// specific node, that it was or wasn't used as a source or target.
//
// Scenarios 1 and 7 reserve one datanode via a pending ADD and supply only
// one further free datanode, so AdditionalReplicaNeeded (which does not
// itself discount in-flight pending ADDs) asks placement for more targets
// than the roster can supply; the handler still emits the one command the
// roster allows and raises InsufficientDatanodesError for the remainder,
// which is the documented partial-placement contract.
func TestHandler_Process_LiteralScenarios(t *testing.T) {
	tests := []struct {
		name                  string
		container             types.Container
		replicas              []types.ContainerReplica
		pending               []types.PendingOp
		minHealthy            int
		setupNodes            func(*nodestatus.Cache)
		wantAccepted          int
		wantInsufficient      bool
		wantInsufficientNeeds int
		wantInsufficientGot   int
		mustNotTarget         types.DatanodeID
		mustNotSource         types.DatanodeID
		checkMustSource       bool
		mustOnlySource        types.DatanodeID
	}{
		{
			// 1: {CLOSED@n1} + pending ADD@n2, minHealthy 2 -> the one free
			// datanode (n3) is chosen, never the one already reserved by
			// the pending add.
			name:       "scenario1_pending_add_reserves_target",
			container:  types.Container{ID: 1, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas:   []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateClosed}},
			pending:    []types.PendingOp{{Type: types.PendingOpAdd, DatanodeID: "n2"}},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
			},
			wantAccepted:          1,
			wantInsufficient:      true,
			wantInsufficientNeeds: 2,
			wantInsufficientGot:   1,
			mustNotTarget:         "n2",
		},
		{
			// 2: no replicas, no pending -> unrecoverable, zero commands.
			name:       "scenario2_no_replicas_unrecoverable",
			container:  types.Container{ID: 2, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas:   nil,
			pending:    nil,
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
			},
			wantAccepted: 0,
		},
		{
			// 3: {CLOSED@n1, CLOSED@n2} + pending ADD@n3 already covers the
			// factor once the pending add lands -> zero new commands.
			name:      "scenario3_pending_add_already_sufficient",
			container: types.Container{ID: 3, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas: []types.ContainerReplica{
				{DatanodeID: "n1", State: types.ReplicaStateClosed},
				{DatanodeID: "n2", State: types.ReplicaStateClosed},
			},
			pending:    []types.PendingOp{{Type: types.PendingOpAdd, DatanodeID: "n3"}},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
			},
			wantAccepted: 0,
		},
		{
			// 4: a DECOMMISSIONING replica cannot be relied on -> 1 needed.
			name:      "scenario4_decommissioning_excluded_from_available",
			container: types.Container{ID: 4, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas: []types.ContainerReplica{
				{DatanodeID: "n1", State: types.ReplicaStateClosed},
				{DatanodeID: "n2", State: types.ReplicaStateClosed},
				{DatanodeID: "n3", State: types.ReplicaStateClosed},
			},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateDecommissioning)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
				c.Heartbeat("n4", types.OperationalStateInService)
			},
			wantAccepted: 1,
		},
		{
			// 5: a replica draining to maintenance lowers the "remaining
			// after drain" term but the minHealthy floor still demands 1.
			name:      "scenario5_maintenance_correction",
			container: types.Container{ID: 5, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas: []types.ContainerReplica{
				{DatanodeID: "n1", State: types.ReplicaStateClosed},
				{DatanodeID: "n2", State: types.ReplicaStateClosed},
				{DatanodeID: "n3", State: types.ReplicaStateClosed},
			},
			minHealthy: 3,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateEnteringMaintenance)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
				c.Heartbeat("n4", types.OperationalStateInService)
			},
			wantAccepted: 1,
		},
		{
			// 6: an UNHEALTHY replica is excluded as both source and
			// target, but does not block reconciling the rest.
			name:      "scenario6_unhealthy_replica_excluded",
			container: types.Container{ID: 6, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas: []types.ContainerReplica{
				{DatanodeID: "n1", State: types.ReplicaStateClosed},
				{DatanodeID: "n2", State: types.ReplicaStateClosed},
				{DatanodeID: "n3", State: types.ReplicaStateUnhealthy},
			},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
				c.Heartbeat("n4", types.OperationalStateInService)
			},
			wantAccepted:  1,
			mustNotTarget: "n3",
			mustNotSource: "n3",
		},
		{
			// 7: only an UNHEALTHY replica exists -> last-resort unhealthy
			// propagation sources from it once nothing healthier is left,
			// and the pending ADD keeps n2 from being re-targeted.
			name:       "scenario7_last_resort_unhealthy_propagation",
			container:  types.Container{ID: 7, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas:   []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateUnhealthy}},
			pending:    []types.PendingOp{{Type: types.PendingOpAdd, DatanodeID: "n2"}},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
			},
			wantAccepted:          1,
			wantInsufficient:      true,
			wantInsufficientNeeds: 2,
			wantInsufficientGot:   1,
			mustNotTarget:         "n2",
			checkMustSource:       true,
			mustOnlySource:        "n1",
		},
		{
			// 8: two CLOSED replicas with different sequence ids -> only
			// the freshest (n1, seq=2) is used as a source.
			name:      "scenario8_freshness_filter_by_sequence",
			container: types.Container{ID: 8, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas: []types.ContainerReplica{
				{DatanodeID: "n1", State: types.ReplicaStateClosed, Sequence: types.SequenceID{Value: 2, Present: true}},
				{DatanodeID: "n2", State: types.ReplicaStateClosed, Sequence: types.SequenceID{Value: 1, Present: true}},
			},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
			},
			wantAccepted:    1,
			mustNotSource:   "n2",
			checkMustSource: true,
			mustOnlySource:  "n1",
		},
		{
			// 9: container CLOSED, replicas CLOSED+QUASI_CLOSED -> since a
			// CLOSED replica exists, QUASI_CLOSED is not used as a source.
			name:      "scenario9_quasi_closed_not_source_when_closed_exists",
			container: types.Container{ID: 9, State: types.ContainerStateClosed, ReplicationFactor: 4, SequenceID: 20},
			replicas: []types.ContainerReplica{
				{DatanodeID: "n1", State: types.ReplicaStateClosed, Sequence: types.SequenceID{Value: 20, Present: true}},
				{DatanodeID: "n2", State: types.ReplicaStateQuasiClosed, Sequence: types.SequenceID{Value: 19, Present: true}},
			},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
				c.Heartbeat("n4", types.OperationalStateInService)
			},
			wantAccepted:  2,
			mustNotSource: "n2",
		},
		{
			// 10: only QUASI_CLOSED replicas exist -> with no CLOSED
			// replica present, QUASI_CLOSED is accepted as a source.
			name:       "scenario10_quasi_closed_used_when_no_closed_exists",
			container:  types.Container{ID: 10, State: types.ContainerStateClosed, ReplicationFactor: 3},
			replicas:   []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateQuasiClosed, Sequence: types.SequenceID{Value: 5, Present: true}}},
			minHealthy: 2,
			setupNodes: func(c *nodestatus.Cache) {
				c.Heartbeat("n1", types.OperationalStateInService)
				c.Heartbeat("n2", types.OperationalStateInService)
				c.Heartbeat("n3", types.OperationalStateInService)
			},
			wantAccepted:    2,
			checkMustSource: true,
			mustOnlySource:  "n1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			nodes := nodestatus.New(nodestatus.DefaultConfig())
			tc.setupNodes(nodes)
			mgr := &fakeReplicationManager{}
			h := newHandler(nodes, mgr)

			accepted, err := h.Process(tc.container, tc.replicas, tc.pending, tc.minHealthy, nil)

			assert.Equal(t, tc.wantAccepted, accepted)

			if tc.wantInsufficient {
				var insufficient *errkind.InsufficientDatanodesError
				require.ErrorAs(t, err, &insufficient)
				assert.Equal(t, tc.wantInsufficientNeeds, insufficient.Needed)
				assert.Equal(t, tc.wantInsufficientGot, insufficient.Obtained)
			} else {
				require.NoError(t, err)
			}

			if tc.mustNotTarget != "" {
				assert.False(t, contains(mgr.allTargets(), tc.mustNotTarget), "must not target %s", tc.mustNotTarget)
			}
			if tc.mustNotSource != "" {
				assert.False(t, contains(mgr.allSources(), tc.mustNotSource), "must not source from %s", tc.mustNotSource)
			}
			if tc.checkMustSource {
				for _, s := range mgr.allSources() {
					assert.Equal(t, tc.mustOnlySource, s)
				}
			}
		})
	}
}

// TestHandler_Process_FallbackOnFailedPlacement covers the first failure
// scenario: placement can find no suitable node while an UNHEALTHY replica
// exists, so the fallback deletes it to free a slot and the handler still
// raises the original placement error.
func TestHandler_Process_FallbackOnFailedPlacement(t *testing.T) {
	nodes := nodestatus.New(nodestatus.DefaultConfig())
	nodes.Heartbeat("n1", types.OperationalStateInService)
	nodes.Heartbeat("n2", types.OperationalStateInService)

	container := types.Container{ID: 20, State: types.ContainerStateClosed, ReplicationFactor: 3}
	replicas := []types.ContainerReplica{
		{DatanodeID: "n1", State: types.ReplicaStateClosed},
		{DatanodeID: "n2", State: types.ReplicaStateUnhealthy},
	}

	mgr := &fakeReplicationManager{}
	h := newHandler(nodes, mgr)

	accepted, err := h.Process(container, replicas, nil, 2, nil)

	require.Error(t, err)
	var notFound *errkind.FailedToFindSuitableNodeError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, 0, accepted)
	require.Len(t, mgr.deleteTargets, 1)
	assert.Equal(t, types.DatanodeID("n2"), mgr.deleteTargets[0])
}

// TestHandler_Process_PartialPlacementRaisesInsufficientDatanodes covers
// the second failure scenario: placement can only satisfy part of the
// request, so the commands it could place are emitted, the partial-
// replication counter fires, and the handler raises
// InsufficientDatanodesError carrying (needed, obtained).
func TestHandler_Process_PartialPlacementRaisesInsufficientDatanodes(t *testing.T) {
	nodes := nodestatus.New(nodestatus.DefaultConfig())
	nodes.Heartbeat("n1", types.OperationalStateInService)
	nodes.Heartbeat("n3", types.OperationalStateInService)

	container := types.Container{ID: 21, State: types.ContainerStateClosed, ReplicationFactor: 3}
	replicas := []types.ContainerReplica{{DatanodeID: "n1", State: types.ReplicaStateClosed}}

	mgr := &fakeReplicationManager{}
	h := newHandler(nodes, mgr)

	accepted, err := h.Process(container, replicas, nil, 2, nil)

	require.Error(t, err)
	var insufficient *errkind.InsufficientDatanodesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Needed)
	assert.Equal(t, 1, insufficient.Obtained)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, []types.DatanodeID{"n3"}, mgr.pushTargets)
}
