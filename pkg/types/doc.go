/*
Package types defines the domain model for the SCM replication
reconciler: containers, their replicas, datanode status, and the
pending operations already in flight toward them.

# Core Types

Containers:
  - Container: an immutable closed-or-closing data container with a
    replication factor and a monotonic sequence ID.
  - ContainerState: OPEN, CLOSING, CLOSED, QUASI_CLOSED, DELETING.

Replicas:
  - ContainerReplica: one copy of a container on one datanode, with its
    own lifecycle state and optional sequence ID.
  - ReplicaState: OPEN, CLOSING, CLOSED, QUASI_CLOSED, UNHEALTHY.
  - SequenceID: a present/absent tagged value — never conflate "absent"
    with a sentinel zero.

Datanodes:
  - DatanodeStatus: operational state (IN_SERVICE, DECOMMISSIONING, ...)
    plus liveness health (HEALTHY, STALE, DEAD) derived from heartbeats.

Pending operations:
  - PendingOp: an ADD or DELETE already sent to a datanode, awaiting
    acknowledgement.

Classification:
  - ClassificationResult: the container plus the tag a health scanner
    assigned it. The reconciler only acts on UNDER_REPLICATED.

# Thread Safety

All types here are read-only snapshots. Nothing in this package
mutates a value after construction; callers that need a fresh view
build a new one.
*/
package types
