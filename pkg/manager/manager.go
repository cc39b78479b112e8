package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/scm-reconciler/pkg/log"
	"github.com/cuemby/scm-reconciler/pkg/metrics"
	"github.com/cuemby/scm-reconciler/pkg/nodestatus"
	"github.com/cuemby/scm-reconciler/pkg/storage"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager owns a single SCM node's Raft membership, durable store, and
// live node-health cache. It is the one writer path into the FSM and the
// read path the reconciliation handler and CLI query against.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft      *raft.Raft
	fsm       *FSM
	store     storage.Store
	nodeCache *nodestatus.Cache
}

// Config holds configuration for creating a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance over a BoltDB-backed store.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewFSM(store)

	m := &Manager{
		nodeID:    cfg.NodeID,
		bindAddr:  cfg.BindAddr,
		dataDir:   cfg.DataDir,
		fsm:       fsm,
		store:     store,
		nodeCache: nodestatus.New(nodestatus.DefaultConfig()),
	}

	return m, nil
}

// NodeCache returns the live, heartbeat-derived node status cache.
func (m *Manager) NodeCache() *nodestatus.Cache {
	return m.nodeCache
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned for LAN failover well under 10s; hashicorp/raft's defaults
	// assume WAN latencies.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	config := raftConfig(m.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a new single-node Raft cluster.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	log.WithComponent("manager").Info().Str("node_id", m.nodeID).Msg("bootstrapped raft cluster")
	return nil
}

// joinRequest is the payload a joining node POSTs to an existing leader's
// join endpoint. There is no generated client for this RPC — it is a
// single JSON exchange over net/http, not a service worth a full
// transport library.
type joinRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

// Join starts this node's Raft instance and asks the leader to add it as
// a voter. joinAddr is the full URL of the leader's JoinHandler endpoint
// (the CLI mounts it at /join); the request is POSTed to it unchanged.
func (m *Manager) Join(joinAddr string) error {
	r, _, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	body, err := json.Marshal(joinRequest{NodeID: m.nodeID, Addr: m.bindAddr})
	if err != nil {
		return fmt.Errorf("failed to marshal join request: %w", err)
	}

	resp, err := http.Post(joinAddr, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to contact leader at %s: %w", joinAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leader rejected join request: status %d", resp.StatusCode)
	}

	log.WithComponent("manager").Info().Str("node_id", m.nodeID).Str("leader", joinAddr).Msg("joined raft cluster")
	return nil
}

// JoinHandler serves join requests from peers wanting to join this node's
// cluster. It is only meaningful on the current Raft leader; registered
// by the CLI's run command alongside the metrics handler.
func (m *Manager) JoinHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := m.AddVoter(req.NodeID, req.Addr); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AddVoter adds a new manager node to the Raft cluster. Must be called on
// the leader.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	log.WithComponent("manager").Info().Str("node_id", nodeID).Str("addr", address).Msg("added voter")
	return nil
}

// RemoveServer removes a server from the Raft cluster. Must be called on
// the leader.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns the current Raft configuration's server list.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this manager is the Raft leader.
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// RaftStats returns (last log index, applied index, peer count), for the
// metrics collector.
func (m *Manager) RaftStats() (lastLogIndex, appliedIndex, peers uint64) {
	if m.raft == nil {
		return 0, 0, 0
	}

	lastLogIndex = m.raft.LastIndex()
	appliedIndex = m.raft.AppliedIndex()

	if configFuture := m.raft.GetConfiguration(); configFuture.Error() == nil {
		peers = uint64(len(configFuture.Configuration().Servers))
	}
	return lastLogIndex, appliedIndex, peers
}

// Apply submits a command to the Raft log and waits for it to commit.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

// --- Container operations ---

// PutContainer upserts a container's lifecycle state via Raft.
func (m *Manager) PutContainer(container types.Container) error {
	data, err := json.Marshal(container)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "put_container", Data: data})
}

// DeleteContainer removes a container via Raft.
func (m *Manager) DeleteContainer(id types.ContainerID) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "delete_container", Data: data})
}

// GetContainer reads a container from the local store.
func (m *Manager) GetContainer(id types.ContainerID) (types.Container, error) {
	return m.store.GetContainer(id)
}

// ListContainers reads all containers from the local store.
func (m *Manager) ListContainers() ([]types.Container, error) {
	return m.store.ListContainers()
}

// --- Replica operations ---

// PutReplica upserts a container replica's state via Raft.
func (m *Manager) PutReplica(replica types.ContainerReplica) error {
	data, err := json.Marshal(replica)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "put_replica", Data: data})
}

// DeleteReplica removes a replica via Raft.
func (m *Manager) DeleteReplica(container types.ContainerID, datanode types.DatanodeID) error {
	data, err := json.Marshal(deleteReplicaRequest{ContainerID: container, DatanodeID: datanode})
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "delete_replica", Data: data})
}

// ListReplicas reads a container's replicas from the local store.
func (m *Manager) ListReplicas(container types.ContainerID) ([]types.ContainerReplica, error) {
	return m.store.ListReplicas(container)
}

// ReplicaCountByDatanode tallies how many replicas, across every
// container, each datanode currently hosts — the load signal
// placement.SpreadPolicy ranks candidates by, least-loaded first.
func (m *Manager) ReplicaCountByDatanode() (map[types.DatanodeID]int, error) {
	containers, err := m.store.ListContainers()
	if err != nil {
		return nil, err
	}

	counts := make(map[types.DatanodeID]int)
	for _, c := range containers {
		replicas, err := m.store.ListReplicas(c.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range replicas {
			counts[r.DatanodeID]++
		}
	}
	return counts, nil
}

// --- Pending operation tracking ---

// PutPendingOp records a newly issued command as pending via Raft.
func (m *Manager) PutPendingOp(container types.ContainerID, op types.PendingOp) error {
	data, err := json.Marshal(struct {
		ContainerID types.ContainerID `json:"container_id"`
		Op          types.PendingOp   `json:"op"`
	}{ContainerID: container, Op: op})
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "put_pending_op", Data: data})
}

// DeletePendingOp clears a pending operation once it is acknowledged or
// times out, via Raft.
func (m *Manager) DeletePendingOp(container types.ContainerID, opID string) error {
	data, err := json.Marshal(deletePendingOpRequest{ContainerID: container, OpID: opID})
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "delete_pending_op", Data: data})
}

// ListPendingOps reads a container's pending operations from the local
// store.
func (m *Manager) ListPendingOps(container types.ContainerID) ([]types.PendingOp, error) {
	return m.store.ListPendingOps(container)
}

// ListAllPendingOps reads every pending operation across all containers.
func (m *Manager) ListAllPendingOps() ([]types.PendingOp, error) {
	return m.store.ListAllPendingOps()
}

// --- Datanode operational state ---

// PutDatanode records a datanode's operational state via Raft. The live
// heartbeat-derived health stays in the node cache and is never
// replicated — only the operator-set operational state needs to survive
// a restart or a leader change.
func (m *Manager) PutDatanode(id types.DatanodeID, operational types.OperationalState) error {
	data, err := json.Marshal(putDatanodeRequest{ID: id, Operational: operational})
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "put_datanode", Data: data})
}

// DeleteDatanode removes a datanode's operational-state record via Raft.
func (m *Manager) DeleteDatanode(id types.DatanodeID) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "delete_datanode", Data: data})
}

// ListDatanodes reads every known datanode's live health, joined against
// its durable operational-state record. A datanode present in the store
// but never heartbeated is reported as DEAD with a zero LastHeartbeat.
func (m *Manager) ListDatanodes() ([]types.DatanodeStatus, error) {
	records, err := m.store.ListDatanodes()
	if err != nil {
		return nil, err
	}

	out := make([]types.DatanodeStatus, 0, len(records))
	for _, rec := range records {
		status, ok := m.nodeCache.Lookup(rec.ID)
		if !ok {
			status = types.DatanodeStatus{ID: rec.ID, OperationalState: rec.Operational, Health: types.NodeHealthDead}
		} else {
			status.OperationalState = rec.Operational
		}
		out = append(out, status)
	}
	return out, nil
}

// --- Classification results ---

// PutClassification records a container's health classification via Raft.
func (m *Manager) PutClassification(result types.ClassificationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "put_classification", Data: data})
}

// ListClassifications reads every container's last classification from the
// local store.
func (m *Manager) ListClassifications() ([]types.ClassificationResult, error) {
	return m.store.ListClassifications()
}

// NodeID returns the manager's node ID.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Shutdown gracefully shuts down the manager's Raft instance and store.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}
