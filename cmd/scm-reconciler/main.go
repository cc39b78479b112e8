package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/scm-reconciler/pkg/config"
	"github.com/cuemby/scm-reconciler/pkg/log"
	"github.com/cuemby/scm-reconciler/pkg/manager"
	"github.com/cuemby/scm-reconciler/pkg/metrics"
	"github.com/cuemby/scm-reconciler/pkg/placement"
	"github.com/cuemby/scm-reconciler/pkg/reconciler"
	"github.com/cuemby/scm-reconciler/pkg/transport"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information, set via ldflags during build.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"

	cfgFile  string
	joinAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scm-reconciler",
	Short: "SCM under-replication reconciliation daemon",
	Long: `scm-reconciler runs the Storage Container Manager's Ratis
under-replication reconciliation handler: a Raft-elected leader scans
classified containers on an interval and restores replication for any it
finds under-replicated.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"scm-reconciler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("node-id", "", "This node's Raft ID (default: hostname)")
	rootCmd.PersistentFlags().String("raft-bind-addr", "", "Raft transport bind address")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory for the BoltDB store and Raft log")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Prometheus metrics listen address")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Bool("push", false, "Use push-mode replication instead of pull-mode")
	rootCmd.PersistentFlags().Int64("container-size", 0, "Nominal container size in bytes, for placement planning")
	rootCmd.PersistentFlags().Int("min-healthy-for-maintenance", 0, "Minimum healthy replicas required while nodes drain to maintenance")
	rootCmd.PersistentFlags().StringVar(&joinAddr, "join", "", "Join address of an existing cluster leader")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reconcileOnceCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if level == "" {
		level = "info"
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// loadConfig builds the effective configuration: defaults, then the YAML
// file (if any), then any flags the operator actually set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if err := config.LoadFile(&cfg, cfgFile); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("node-id"); v != "" {
		cfg.NodeID = v
	}
	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return cfg, fmt.Errorf("resolve default node id: %w", err)
		}
		cfg.NodeID = host
	}
	if v, _ := flags.GetString("raft-bind-addr"); v != "" {
		cfg.RaftBindAddr = v
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := flags.GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, _ := flags.GetInt64("container-size"); v != 0 {
		cfg.ContainerSizeBytes = v
	}
	if v, _ := flags.GetInt("min-healthy-for-maintenance"); v != 0 {
		cfg.MinHealthyForMaintenance = v
	}
	if flags.Changed("push") {
		cfg.PushReplication, _ = flags.GetBool("push")
	}

	return cfg, nil
}

// buildManager wires a Manager, bootstrapping or joining a cluster
// depending on whether --join was given.
func buildManager(cfg config.Config) (*manager.Manager, error) {
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.RaftBindAddr,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}

	if joinAddr != "" {
		if err := mgr.Join(joinAddr); err != nil {
			return nil, fmt.Errorf("join cluster at %s: %w", joinAddr, err)
		}
	} else {
		if err := mgr.Bootstrap(); err != nil {
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	return mgr, nil
}

// buildHandler assembles the reconciliation Handler and its placement
// policy and command transport over mgr.
func buildHandler(cfg config.Config, mgr *manager.Manager) *reconciler.Handler {
	nodes := mgr.NodeCache()

	spreadPolicy := placement.NewSpreadPolicy(nodes, func(id types.DatanodeID) int {
		counts, err := mgr.ReplicaCountByDatanode()
		if err != nil {
			return 0
		}
		return counts[id]
	})

	endpoints := make(transport.StaticEndpoints, len(cfg.DatanodeAddrs))
	for id, addr := range cfg.DatanodeAddrs {
		endpoints[types.DatanodeID(id)] = addr
	}
	xport := transport.NewManager(endpoints, transport.Config{
		QueueDepth:     cfg.TransportQueueDepth,
		RequestTimeout: 10 * time.Second,
	})

	return reconciler.NewHandler(nodes, spreadPolicy, xport, reconciler.Config{
		ContainerSizeBytes: cfg.ContainerSizeBytes,
		PushReplication:    cfg.PushReplication,
		MaxPendingDeletes:  cfg.MaxPendingDeletes,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		mgr, err := buildManager(cfg)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		handler := buildHandler(cfg, mgr)
		dispatcher := reconciler.NewDispatcher(mgr, handler, cfg.ReconcileInterval, cfg.MinHealthyForMaintenance)
		dispatcher.Start()
		defer dispatcher.Stop()

		collector := metrics.NewCollector(mgr)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/join", mgr.JoinHandler)
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("main").Error().Err(err).Msg("metrics server failed")
			}
		}()

		log.WithComponent("main").Info().
			Str("node_id", cfg.NodeID).
			Str("raft_addr", cfg.RaftBindAddr).
			Str("metrics_addr", cfg.MetricsAddr).
			Msg("scm-reconciler started")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.WithComponent("main").Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

var reconcileOnceCmd = &cobra.Command{
	Use:   "reconcile-once",
	Short: "Run a single reconciliation cycle against a running store and exit",
	Long: `reconcile-once opens the BoltDB store in --data-dir, starts this
node's Raft instance (bootstrapping, or joining via --join), waits up to
five seconds to become leader, runs one Dispatcher-equivalent scan over
every UNDER_REPLICATED container, and exits. Intended for operators
diagnosing a stuck cluster, not for production scheduling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		mgr, err := buildManager(cfg)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		// A freshly bootstrapped single node becomes its own leader within
		// one election cycle; reconcile-once waits briefly rather than
		// requiring an operator to race it.
		deadline := time.Now().Add(5 * time.Second)
		for !mgr.IsLeader() && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}

		handler := buildHandler(cfg, mgr)
		dispatcher := reconciler.NewDispatcher(mgr, handler, time.Hour, cfg.MinHealthyForMaintenance)
		dispatcher.RunOnce()
		return nil
	},
}
