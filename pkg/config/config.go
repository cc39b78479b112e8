// Package config loads the scm-reconciler daemon's configuration from a
// YAML file, overridden by command-line flags, mirroring the teacher's
// flag-then-file layering for its own cluster settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the daemon needs, grouped the way the CLI's
// flags present them.
type Config struct {
	// NodeID identifies this SCM node in the Raft cluster.
	NodeID string `yaml:"nodeId"`

	// RaftBindAddr is the TCP address this node's Raft transport listens
	// on.
	RaftBindAddr string `yaml:"raftBindAddr"`

	// DataDir holds the BoltDB store, Raft log, and Raft snapshots.
	DataDir string `yaml:"dataDir"`

	// MetricsAddr is the address the Prometheus handler listens on.
	MetricsAddr string `yaml:"metricsAddr"`

	// LogLevel and LogJSON are read from the file, but the CLI builds
	// pkg/log's global logger from the --log-level and --log-json flags
	// alone; these two fields are not applied to it.
	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`

	// ReconcileInterval is how often the Dispatcher scans for
	// under-replicated containers.
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`

	// StaleAfter and DeadAfter describe the node status cache's liveness
	// tiers. They are read from the file but not passed on: the manager
	// builds its cache with nodestatus.DefaultConfig().
	StaleAfter time.Duration `yaml:"staleAfter"`
	DeadAfter  time.Duration `yaml:"deadAfter"`

	// ContainerSizeBytes is container.size from the handler's external
	// interface: the nominal container size passed to the placement
	// policy.
	ContainerSizeBytes int64 `yaml:"containerSizeBytes"`

	// PushReplication is replication.push: true selects push-mode
	// emission, false selects pull-mode.
	PushReplication bool `yaml:"push"`

	// MinHealthyForMaintenance is minHealthyForMaintenance, passed to the
	// handler on every invocation.
	MinHealthyForMaintenance int `yaml:"minHealthyForMaintenance"`

	// MaxPendingDeletes caps the Fallback's in-flight delete budget per
	// container.
	MaxPendingDeletes int `yaml:"maxPendingDeletes"`

	// TransportQueueDepth bounds the command transport's in-flight
	// command count before it signals COMMAND_TARGET_OVERLOADED.
	TransportQueueDepth int `yaml:"transportQueueDepth"`

	// DatanodeAddrs maps a datanode ID to the base URL its command
	// endpoint listens on. A single-rack deployment with a fixed roster
	// is assumed — dynamic datanode registration is outside this
	// repository's scope, the same way the handler treats command
	// transport as an external collaborator.
	DatanodeAddrs map[string]string `yaml:"datanodeAddrs"`
}

// Default returns the configuration the daemon starts from before a file
// or flags are applied.
func Default() Config {
	return Config{
		RaftBindAddr:             "127.0.0.1:7000",
		DataDir:                  "./data",
		MetricsAddr:              ":9090",
		LogLevel:                 "info",
		ReconcileInterval:        10 * time.Second,
		StaleAfter:               15 * time.Second,
		DeadAfter:                30 * time.Second,
		ContainerSizeBytes:       5 << 30, // 5 GiB
		PushReplication:          true,
		MinHealthyForMaintenance: 2,
		MaxPendingDeletes:        1,
		TransportQueueDepth:      256,
	}
}

// LoadFile merges YAML file contents at path into cfg. A missing file is
// not an error — the daemon runs on defaults plus flags alone.
func LoadFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
