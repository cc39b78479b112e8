// Package reconciler implements the under-replication reconciliation
// handler and the Dispatcher that drives it: a per-container decision
// procedure composing the replicacount, verifier, source, placement, and
// command packages into the single orchestration operation
// processAndSendCommands, plus the periodic scan loop that supplies it
// with fresh snapshots.
package reconciler

import (
	"fmt"
	"time"

	"github.com/cuemby/scm-reconciler/pkg/command"
	"github.com/cuemby/scm-reconciler/pkg/errkind"
	"github.com/cuemby/scm-reconciler/pkg/log"
	"github.com/cuemby/scm-reconciler/pkg/placement"
	"github.com/cuemby/scm-reconciler/pkg/replicacount"
	"github.com/cuemby/scm-reconciler/pkg/source"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/cuemby/scm-reconciler/pkg/verifier"
	"github.com/google/uuid"
)

// datanodeHealth is the node status lookup every collaborator below
// needs. Satisfied by *nodestatus.Cache.
type datanodeHealth interface {
	Lookup(id types.DatanodeID) (types.DatanodeStatus, bool)
	Snapshot() []types.DatanodeStatus
}

// Config controls handler-wide, per-invocation policy.
type Config struct {
	// ContainerSizeBytes is the nominal container size passed to the
	// placement policy for free-space planning.
	ContainerSizeBytes int64

	// PushReplication selects push-mode emission over pull-mode.
	PushReplication bool

	// MaxPendingDeletes caps the Fallback's in-flight delete budget per
	// container.
	MaxPendingDeletes int
}

// Handler is the stateless, per-invocation reconciliation procedure. It
// holds no per-container state between calls; every Process call
// receives a fresh, caller-owned snapshot.
type Handler struct {
	nodes  datanodeHealth
	policy placement.Policy
	mgr    command.ReplicationManager
	cfg    Config
}

// NewHandler builds a Handler over the given collaborators.
func NewHandler(nodes datanodeHealth, policy placement.Policy, mgr command.ReplicationManager, cfg Config) *Handler {
	return &Handler{nodes: nodes, policy: policy, mgr: mgr, cfg: cfg}
}

// PendingOpCallback is invoked once per replication command accepted by
// the transport, with a pending ADD, so the caller (the Dispatcher) can
// persist the new pending operation through Raft. A delete command sent
// by the Fallback is not reported through it. The handler itself never writes to the
// snapshot store — it only observes replicas and pending ops, and emits
// commands and callback notifications.
type PendingOpCallback func(op types.PendingOp)

const defaultPendingOpTTL = 5 * time.Minute

// Process runs processAndSendCommands for one container: given its
// current replica set and in-flight pending operations, decide whether
// and how to restore replication, emit the resulting commands, and
// report how many were accepted.
//
// minHealthyForMaintenance is supplied per invocation, as spec'd, rather
// than fixed at Handler construction, since different containers may be
// reconciled under different maintenance policy values within the same
// process.
func (h *Handler) Process(container types.Container, replicas []types.ContainerReplica, pendingOps []types.PendingOp, minHealthyForMaintenance int, onPending PendingOpCallback) (int, error) {
	logger := log.WithContainerID(uint64(container.ID))

	without := replicacount.New(container, replicas, pendingOps, minHealthyForMaintenance, false)
	with := replicacount.New(container, replicas, pendingOps, minHealthyForMaintenance, true)

	chosen := verifier.Verify(without, with, h.nodes)
	if chosen == nil {
		return 0, nil
	}

	rc, ok := chosen.(*replicacount.ReplicaCount)
	if !ok {
		return 0, fmt.Errorf("reconciler: verifier returned unexpected view type")
	}

	sources := source.Select(container, rc, pendingOps, h.nodes)
	if len(sources) == 0 {
		logger.Warn().Msg("under-replicated container has no eligible source, skipping")
		return 0, nil
	}

	needed := rc.AdditionalReplicaNeeded(h.nodes)
	targets, err := placement.ChooseTargets(h.policy, rc, pendingOps, h.nodes, h.cfg.ContainerSizeBytes)
	if err != nil {
		if _, ok := err.(*errkind.FailedToFindSuitableNodeError); ok {
			fbCfg := command.Config{MaxPendingDeletes: h.cfg.MaxPendingDeletes}
			if _, ferr := command.Fallback(h.mgr, fbCfg, container.ID, replicas, pendingOps); ferr != nil {
				logger.Warn().Err(ferr).Msg("fallback slot-freeing delete failed")
			}
		}
		return 0, err
	}

	cmdCfg := command.Config{Push: h.cfg.PushReplication, MaxPendingDeletes: h.cfg.MaxPendingDeletes}
	accepted, err := command.EmitWithPartialTracking(h.mgr, cmdCfg, container.ID, sources, targets, needed)

	if onPending != nil {
		for i := 0; i < accepted && i < len(targets); i++ {
			onPending(types.PendingOp{
				ID:         uuid.New().String(),
				Type:       types.PendingOpAdd,
				DatanodeID: targets[i],
				Deadline:   time.Now().Add(defaultPendingOpTTL),
			})
		}
	}

	return accepted, err
}
