package storage

import (
	"github.com/cuemby/scm-reconciler/pkg/types"
)

// Store defines the interface for durable SCM metadata storage. It is
// implemented by BoltStore; the Raft FSM is the only writer, applying
// entries only after they have committed through consensus.
type Store interface {
	// Containers
	PutContainer(container types.Container) error
	GetContainer(id types.ContainerID) (types.Container, error)
	ListContainers() ([]types.Container, error)
	DeleteContainer(id types.ContainerID) error

	// Replicas
	PutReplica(replica types.ContainerReplica) error
	ListReplicas(container types.ContainerID) ([]types.ContainerReplica, error)
	DeleteReplica(container types.ContainerID, datanode types.DatanodeID) error

	// Pending operations
	PutPendingOp(container types.ContainerID, op types.PendingOp) error
	ListPendingOps(container types.ContainerID) ([]types.PendingOp, error)
	ListAllPendingOps() ([]types.PendingOp, error)
	DeletePendingOp(container types.ContainerID, opID string) error

	// Datanode records
	PutDatanode(id types.DatanodeID, operational types.OperationalState) error
	ListDatanodes() ([]DatanodeRecord, error)
	DeleteDatanode(id types.DatanodeID) error

	// Classification results, for the metrics collector and CLI inspection.
	PutClassification(result types.ClassificationResult) error
	ListClassifications() ([]types.ClassificationResult, error)

	Close() error
}

// DatanodeRecord is the durable record of a datanode's last known
// operational state, as distinct from its live heartbeat-derived health
// (which the nodestatus cache tracks and never persists).
type DatanodeRecord struct {
	ID          types.DatanodeID
	Operational types.OperationalState
}
