/*
Package manager implements the SCM node's Raft consensus layer and its
durable control-plane state.

Each SCM node runs a Manager, which owns a Raft instance, a BoltDB-backed
Store, and the live nodestatus.Cache that tracks datanode heartbeats.
Writes to containers, replicas, pending operations, and datanode records
all go through Raft: Apply marshals a Command, submits it to the log, and
blocks until it commits, at which point the FSM has applied it to the
Store on every node in the quorum. Reads are served locally against the
Store, since every node's Store reflects the same committed log.

# Cluster formation

The first node in a cluster calls Bootstrap, which creates a
single-member Raft configuration. Subsequent nodes call Join, which
starts their own Raft instance and then POSTs a join request to an
existing leader's JoinHandler — a minimal net/http exchange, not a
generated RPC client, since the only thing being negotiated is "add me as
a voter." The leader's JoinHandler calls AddVoter, which rejects the
request if this node is not currently the leader; the caller is
expected to retry against the current leader, discoverable once its own
Raft instance starts exchanging heartbeats, or by checking LeaderAddr
against cluster membership returned by GetClusterServers.

# Relationship to the reconciliation handler

The reconciliation handler (pkg/reconciler) reads containers, replicas,
and datanode status through a Manager to build up the classification and
decision state it needs, and writes pending operations back through the
same Manager once it emits replication commands. The handler never talks
to Raft or the Store directly — the Manager is the only thing in the
process that knows whether a write needs to go through consensus.
*/
package manager
