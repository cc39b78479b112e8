// Package storage persists SCM metadata — containers, replicas, pending
// operations, and datanode records — in BoltDB, behind the Store
// interface. The Raft FSM in pkg/manager is the only writer; reads serve
// the reconciliation handler and the CLI directly against the local
// BoltDB file, since every node in the Raft group applies the same log.
package storage
