package reconciler

import (
	"sync"
	"time"

	"github.com/cuemby/scm-reconciler/pkg/log"
	"github.com/cuemby/scm-reconciler/pkg/metrics"
	"github.com/cuemby/scm-reconciler/pkg/types"
	"github.com/rs/zerolog"
)

// cluster is the subset of *manager.Manager the Dispatcher needs.
// Declaring it locally keeps reconciler free of a direct dependency on
// manager, matching the same pattern pkg/metrics uses for its collector.
type cluster interface {
	IsLeader() bool
	ListClassifications() ([]types.ClassificationResult, error)
	ListReplicas(container types.ContainerID) ([]types.ContainerReplica, error)
	ListPendingOps(container types.ContainerID) ([]types.PendingOp, error)
	PutPendingOp(container types.ContainerID, op types.PendingOp) error
}

// Dispatcher runs the Handler on a ticker, at most once per container per
// tick, against every container whose last classification is
// UNDER_REPLICATED. It is the at-most-one-outstanding-invocation
// guarantee the handler's concurrency model assumes, implemented here as
// single-goroutine sequential processing rather than a worker pool — the
// handler is purely computational and the spec states no liveness
// requirement that would justify fan-out.
type Dispatcher struct {
	cluster                  cluster
	handler                  *Handler
	interval                 time.Duration
	minHealthyForMaintenance int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher builds a Dispatcher that scans cluster on interval,
// invoking handler for each UNDER_REPLICATED container it finds.
func NewDispatcher(cluster cluster, handler *Handler, interval time.Duration, minHealthyForMaintenance int) *Dispatcher {
	return &Dispatcher{
		cluster:                  cluster,
		handler:                  handler,
		interval:                 interval,
		minHealthyForMaintenance: minHealthyForMaintenance,
		stopCh:                   make(chan struct{}),
	}
}

// Start runs the scan loop in a background goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.RunOnce()
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop signals the scan loop to exit and waits for it to do so.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// RunOnce runs a single scan-and-reconcile cycle synchronously: if this
// node is Raft leader, it lists every UNDER_REPLICATED container and
// invokes the handler for each in turn. Exported so a one-shot CLI
// invocation can drive the same cycle the ticker loop does.
func (d *Dispatcher) RunOnce() {
	logger := log.WithComponent("dispatcher")

	if !d.cluster.IsLeader() {
		logger.Debug().Msg("not leader, skipping reconciliation cycle")
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationCyclesTotal.Inc()

	results, err := d.cluster.ListClassifications()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list classifications")
		return
	}

	for _, result := range results {
		if result.Tag != types.HealthTagUnderReplicated {
			continue
		}
		d.processOne(result, logger)
	}
}

func (d *Dispatcher) processOne(result types.ClassificationResult, logger zerolog.Logger) {
	container := result.Container
	containerLogger := log.WithContainerID(uint64(container.ID))

	replicas, err := d.cluster.ListReplicas(container.ID)
	if err != nil {
		logger.Warn().Err(err).Uint64("container_id", uint64(container.ID)).Msg("failed to list replicas")
		return
	}

	pendingOps, err := d.cluster.ListPendingOps(container.ID)
	if err != nil {
		logger.Warn().Err(err).Uint64("container_id", uint64(container.ID)).Msg("failed to list pending ops")
		return
	}

	metrics.UnderReplicatedContainersHandled.Inc()
	handlerTimer := metrics.NewTimer()

	accepted, err := d.handler.Process(container, replicas, pendingOps, d.minHealthyForMaintenance, func(op types.PendingOp) {
		if perr := d.cluster.PutPendingOp(container.ID, op); perr != nil {
			containerLogger.Warn().Err(perr).Msg("failed to persist pending op")
		}
	})
	handlerTimer.ObserveDuration(metrics.HandlerDuration)

	if err != nil {
		containerLogger.Warn().Err(err).Int("accepted", accepted).Msg("reconciliation raised an error")
		return
	}
	if accepted > 0 {
		containerLogger.Info().Int("accepted", accepted).Msg("emitted replication commands")
	}
}
