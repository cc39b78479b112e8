/*
Package reconciler ties the replicacount, verifier, source, placement,
and command packages into the reconciliation handler's single
top-to-bottom orchestration, and runs it from a Dispatcher.

# Handler

Handler.Process is processAndSendCommands: it builds the two
ReplicaCount views for a container, asks the verifier which one (if any)
the rest of the pipeline should act under, selects sources, delegates to
the placement policy for targets, and emits commands through a
command.ReplicationManager. It is purely computational and synchronous —
the only I/O it touches is the node status cache lookup and the
transport's command queue, both already non-blocking or bounded by
design. Process never retains its input slices past return and never
mutates them.

Errors the spec marks fatal (NOT_LEADER, COMMAND_TARGET_OVERLOADED, any
non-FAILED_TO_FIND_SUITABLE_NODE placement error) are returned as-is for
the Dispatcher to log and move on from; there is no retry inside Process
itself, since recovery is entirely by re-queue on a later tick.

# Dispatcher

Dispatcher owns the periodic scan: on each tick, if this node currently
observes itself as Raft leader, it lists every container whose most
recent classification is UNDER_REPLICATED and invokes the handler once
per container, sequentially. A handler error for one container is logged
and does not stop the cycle from reaching the rest. Newly accepted
commands are reported back through a callback so the Dispatcher — not
the Handler — is the thing that knows how to persist a pending operation
through Raft.
*/
package reconciler
