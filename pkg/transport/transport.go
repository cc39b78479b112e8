// Package transport sends replication and delete commands to datanodes
// over a bounded queue, implementing command.ReplicationManager. A full
// datanode-side command listener is outside this repository's scope —
// datanodes are an external collaborator per the handler's design — but
// the send path, its backpressure behavior, and its per-command
// correlation IDs (a fresh UUID on every send) are not.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/scm-reconciler/pkg/command"
	"github.com/cuemby/scm-reconciler/pkg/errkind"
	"github.com/cuemby/scm-reconciler/pkg/log"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/google/uuid"
)

// Endpoints resolves a datanode ID to the base URL its command endpoint
// listens on. Supplied by the caller so transport stays free of cluster
// membership concerns.
type Endpoints interface {
	CommandAddr(id types.DatanodeID) (string, bool)
}

// StaticEndpoints resolves datanode addresses from a fixed roster, for a
// single-rack deployment where datanode addresses are configured rather
// than discovered.
type StaticEndpoints map[types.DatanodeID]string

// CommandAddr implements Endpoints.
func (s StaticEndpoints) CommandAddr(id types.DatanodeID) (string, bool) {
	addr, ok := s[id]
	return addr, ok
}

// Config bounds the transport's in-flight command queue.
type Config struct {
	// QueueDepth is the maximum number of commands allowed in flight
	// (awaiting an HTTP response) before SendThrottledReplicationCommand,
	// SendDatanodeCommand, and SendDeleteCommand start refusing new work
	// with ErrCommandTargetOverloaded.
	QueueDepth int

	// RequestTimeout bounds a single command's HTTP round trip.
	RequestTimeout time.Duration
}

// DefaultConfig returns sane defaults for a single-rack deployment.
func DefaultConfig() Config {
	return Config{QueueDepth: 256, RequestTimeout: 10 * time.Second}
}

// replicateEnvelope is the wire payload a datanode's command endpoint
// accepts for a replicate (push or pull) command.
type replicateEnvelope struct {
	ID        string             `json:"id"`
	Container types.ContainerID  `json:"container"`
	Sources   []types.DatanodeID `json:"sources"`
	Target    types.DatanodeID   `json:"target"`
	Mode      string             `json:"mode"`
	Priority  command.Priority   `json:"priority"`
}

// deleteEnvelope is the wire payload for a delete command.
type deleteEnvelope struct {
	ID           string            `json:"id"`
	Container    types.ContainerID `json:"container"`
	ReplicaIndex int               `json:"replica_index"`
	Datanode     types.DatanodeID  `json:"datanode"`
	Force        bool              `json:"force"`
}

// Manager implements command.ReplicationManager over HTTP, with a bounded
// semaphore standing in for the transport's shared command queue.
type Manager struct {
	endpoints Endpoints
	client    *http.Client
	inflight  chan struct{}
}

// NewManager builds a Manager bounded by cfg.QueueDepth concurrent
// in-flight commands.
func NewManager(endpoints Endpoints, cfg Config) *Manager {
	return &Manager{
		endpoints: endpoints,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		inflight:  make(chan struct{}, cfg.QueueDepth),
	}
}

func (m *Manager) acquire() error {
	select {
	case m.inflight <- struct{}{}:
		return nil
	default:
		return errkind.ErrCommandTargetOverloaded
	}
}

func (m *Manager) release() {
	<-m.inflight
}

func (m *Manager) post(datanode types.DatanodeID, path string, payload interface{}) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	addr, ok := m.endpoints.CommandAddr(datanode)
	if !ok {
		return fmt.Errorf("transport: no command address for datanode %s", datanode)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal command: %w", err)
	}

	resp, err := m.client.Post(addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: send command to %s: %w", datanode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return errkind.ErrCommandTargetOverloaded
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("transport: datanode %s rejected command: status %d", datanode, resp.StatusCode)
	}
	return nil
}

// SendThrottledReplicationCommand asks a coordinator to pick a source from
// sources and push the replica to target.
func (m *Manager) SendThrottledReplicationCommand(container types.ContainerID, sources []types.DatanodeID, target types.DatanodeID, priority command.Priority) error {
	env := replicateEnvelope{
		ID:        uuid.New().String(),
		Container: container,
		Sources:   sources,
		Target:    target,
		Mode:      "push",
		Priority:  priority,
	}
	err := m.post(target, "/commands/replicate", env)
	logReplicateResult(container, target, "push", err)
	return err
}

// SendDatanodeCommand instructs target to pull the replica directly from
// one of sources.
func (m *Manager) SendDatanodeCommand(container types.ContainerID, sources []types.DatanodeID, target types.DatanodeID) error {
	env := replicateEnvelope{
		ID:        uuid.New().String(),
		Container: container,
		Sources:   sources,
		Target:    target,
		Mode:      "pull",
	}
	err := m.post(target, "/commands/replicate", env)
	logReplicateResult(container, target, "pull", err)
	return err
}

// SendDeleteCommand instructs datanode to delete its replica of container
// at replicaIndex.
func (m *Manager) SendDeleteCommand(container types.ContainerID, replicaIndex int, datanode types.DatanodeID, forceDelete bool) error {
	env := deleteEnvelope{
		ID:           uuid.New().String(),
		Container:    container,
		ReplicaIndex: replicaIndex,
		Datanode:     datanode,
		Force:        forceDelete,
	}
	err := m.post(datanode, "/commands/delete", env)
	logger := log.WithContainerID(uint64(container))
	if err != nil {
		logger.Warn().Err(err).Str("datanode", string(datanode)).Msg("delete command failed")
	} else {
		logger.Info().Str("datanode", string(datanode)).Msg("delete command sent")
	}
	return err
}

func logReplicateResult(container types.ContainerID, target types.DatanodeID, mode string, err error) {
	logger := log.WithContainerID(uint64(container))
	if err != nil {
		logger.Warn().Err(err).Str("target", string(target)).Str("mode", mode).Msg("replicate command failed")
		return
	}
	logger.Info().Str("target", string(target)).Str("mode", mode).Msg("replicate command sent")
}
