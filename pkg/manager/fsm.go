package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/scm-reconciler/pkg/storage"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine for SCM metadata. It
// applies committed log entries to the Store and handles snapshotting.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a new FSM over store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command represents a state change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// deletePendingOpRequest is the payload for "delete_pending_op", which
// needs both the container and the op id to find the right record.
type deletePendingOpRequest struct {
	ContainerID types.ContainerID `json:"container_id"`
	OpID        string            `json:"op_id"`
}

type deleteReplicaRequest struct {
	ContainerID types.ContainerID `json:"container_id"`
	DatanodeID  types.DatanodeID  `json:"datanode_id"`
}

type putDatanodeRequest struct {
	ID          types.DatanodeID       `json:"id"`
	Operational types.OperationalState `json:"operational_state"`
}

// Apply applies a committed Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "put_container":
		var container types.Container
		if err := json.Unmarshal(cmd.Data, &container); err != nil {
			return err
		}
		return f.store.PutContainer(container)

	case "delete_container":
		var id types.ContainerID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteContainer(id)

	case "put_replica":
		var replica types.ContainerReplica
		if err := json.Unmarshal(cmd.Data, &replica); err != nil {
			return err
		}
		return f.store.PutReplica(replica)

	case "delete_replica":
		var req deleteReplicaRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.store.DeleteReplica(req.ContainerID, req.DatanodeID)

	case "put_pending_op":
		var req struct {
			ContainerID types.ContainerID `json:"container_id"`
			Op          types.PendingOp   `json:"op"`
		}
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.store.PutPendingOp(req.ContainerID, req.Op)

	case "delete_pending_op":
		var req deletePendingOpRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.store.DeletePendingOp(req.ContainerID, req.OpID)

	case "put_datanode":
		var req putDatanodeRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.store.PutDatanode(req.ID, req.Operational)

	case "delete_datanode":
		var id types.DatanodeID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteDatanode(id)

	case "put_classification":
		var result types.ClassificationResult
		if err := json.Unmarshal(cmd.Data, &result); err != nil {
			return err
		}
		return f.store.PutClassification(result)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	containers, err := f.store.ListContainers()
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %v", err)
	}

	var replicas []types.ContainerReplica
	for _, c := range containers {
		rs, err := f.store.ListReplicas(c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list replicas for container %d: %v", c.ID, err)
		}
		replicas = append(replicas, rs...)
	}

	var pendingOps []pendingOpRecord
	for _, c := range containers {
		ops, err := f.store.ListPendingOps(c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending ops for container %d: %v", c.ID, err)
		}
		for _, op := range ops {
			pendingOps = append(pendingOps, pendingOpRecord{ContainerID: c.ID, Op: op})
		}
	}

	datanodes, err := f.store.ListDatanodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list datanodes: %v", err)
	}

	classifications, err := f.store.ListClassifications()
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %v", err)
	}

	return &Snapshot{
		Containers:      containers,
		Replicas:        replicas,
		PendingOps:      pendingOps,
		Datanodes:       datanodes,
		Classifications: classifications,
	}, nil
}

// Restore restores the FSM from a snapshot, on node start or rejoin.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, container := range snapshot.Containers {
		if err := f.store.PutContainer(container); err != nil {
			return fmt.Errorf("failed to restore container: %v", err)
		}
	}
	for _, replica := range snapshot.Replicas {
		if err := f.store.PutReplica(replica); err != nil {
			return fmt.Errorf("failed to restore replica: %v", err)
		}
	}
	for _, rec := range snapshot.PendingOps {
		if err := f.store.PutPendingOp(rec.ContainerID, rec.Op); err != nil {
			return fmt.Errorf("failed to restore pending op: %v", err)
		}
	}
	for _, rec := range snapshot.Datanodes {
		if err := f.store.PutDatanode(rec.ID, rec.Operational); err != nil {
			return fmt.Errorf("failed to restore datanode: %v", err)
		}
	}
	for _, result := range snapshot.Classifications {
		if err := f.store.PutClassification(result); err != nil {
			return fmt.Errorf("failed to restore classification: %v", err)
		}
	}

	return nil
}

// pendingOpRecord pairs a pending operation with the container it belongs
// to, since PendingOp itself carries no container reference — the Store
// scopes pending ops by container in its key space.
type pendingOpRecord struct {
	ContainerID types.ContainerID
	Op          types.PendingOp
}

// Snapshot is a point-in-time snapshot of FSM state.
type Snapshot struct {
	Containers      []types.Container
	Replicas        []types.ContainerReplica
	PendingOps      []pendingOpRecord
	Datanodes       []storage.DatanodeRecord
	Classifications []types.ClassificationResult
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases the snapshot resources.
func (s *Snapshot) Release() {}
