// Package placement implements the Target Selector and the default
// spread-by-replica-count placement policy. A Policy is the only
// extension point the reconciliation pipeline needs; SpreadPolicy is the
// one shipped here, biased toward the least-loaded healthy datanode.
package placement
