// Package errkind defines the sentinel and structured error kinds the
// reconciliation handler propagates to its caller, per the handler's error
// handling design: most failures are recovered by re-queue, a small set of
// fatal kinds are not.
package errkind

import "fmt"

// ErrNotLeader is returned when the local SCM instance is no longer the
// Raft leader. The caller abandons the current reconciliation iteration —
// there is nothing to retry locally, a new leader will pick the container
// back up.
var ErrNotLeader = fmt.Errorf("scm: not the raft leader")

// ErrCommandTargetOverloaded is returned by the command transport when a
// datanode's command queue is full. Commands already accepted before the
// overload was hit remain accepted; the handler does not roll them back.
var ErrCommandTargetOverloaded = fmt.Errorf("scm: command target overloaded")

// ErrNodeNotFound names the NodeNotFound kind: an unknown datanode. The
// node status cache reports such a node as a lookup miss (its second
// result is false) rather than returning this value; the handler treats a
// miss as "unhealthy, skip" locally and never propagates it.
var ErrNodeNotFound = fmt.Errorf("scm: node not found")

// FailedToFindSuitableNodeError is returned by a PlacementPolicy when it
// cannot produce any target, as distinct from a catastrophic policy error.
// It carries the number of targets that were requested so callers can log
// useful context.
type FailedToFindSuitableNodeError struct {
	Requested int
}

func (e *FailedToFindSuitableNodeError) Error() string {
	return fmt.Sprintf("scm: failed to find suitable node (requested %d)", e.Requested)
}

// InsufficientDatanodesError is raised after commands have already been
// emitted for every target that could be obtained, signalling the caller
// to re-queue the container so the remaining slots get filled on a later
// pass.
type InsufficientDatanodesError struct {
	Needed   int
	Obtained int
}

func (e *InsufficientDatanodesError) Error() string {
	return fmt.Sprintf("scm: insufficient datanodes (needed %d, obtained %d)", e.Needed, e.Obtained)
}
