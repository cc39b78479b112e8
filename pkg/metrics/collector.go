package metrics

import (
	"time"

	"github.com/cuemby/scm-reconciler/pkg/types"
)

// clusterView is the read-only subset of the manager the collector needs.
// Declaring it locally avoids a dependency from metrics on manager.
type clusterView interface {
	ListDatanodes() ([]types.DatanodeStatus, error)
	ListClassifications() ([]types.ClassificationResult, error)
	ListAllPendingOps() ([]types.PendingOp, error)
	IsLeader() bool
	RaftStats() (lastLogIndex, appliedIndex, peers uint64)
}

// Collector periodically refreshes the cluster-wide gauges from the
// manager's current view of the world.
type Collector struct {
	cluster clusterView
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(cluster clusterView) *Collector {
	return &Collector{
		cluster: cluster,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectDatanodeMetrics()
	c.collectContainerMetrics()
	c.collectPendingOpMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectDatanodeMetrics() {
	datanodes, err := c.cluster.ListDatanodes()
	if err != nil {
		return
	}

	counts := make(map[string]map[string]int)
	for _, d := range datanodes {
		op := string(d.OperationalState)
		if counts[op] == nil {
			counts[op] = make(map[string]int)
		}
		counts[op][string(d.Health)]++
	}

	for op, healths := range counts {
		for health, count := range healths {
			DatanodesTotal.WithLabelValues(op, health).Set(float64(count))
		}
	}
}

func (c *Collector) collectContainerMetrics() {
	results, err := c.cluster.ListClassifications()
	if err != nil {
		return
	}

	stateCounts := make(map[types.ContainerState]int)
	tagCounts := make(map[types.HealthTag]int)
	for _, r := range results {
		stateCounts[r.Container.State]++
		tagCounts[r.Tag]++
	}

	for state, count := range stateCounts {
		ContainersTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	for tag, count := range tagCounts {
		ContainersByHealthTag.WithLabelValues(string(tag)).Set(float64(count))
	}
}

func (c *Collector) collectPendingOpMetrics() {
	pending, err := c.cluster.ListAllPendingOps()
	if err != nil {
		return
	}

	counts := make(map[types.PendingOpType]int)
	for _, op := range pending {
		counts[op.Type]++
	}
	for opType, count := range counts {
		PendingOpsTotal.WithLabelValues(string(opType)).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.cluster.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	lastIndex, appliedIndex, peers := c.cluster.RaftStats()
	RaftLogIndex.Set(float64(lastIndex))
	RaftAppliedIndex.Set(float64(appliedIndex))
	RaftPeers.Set(float64(peers))
}
