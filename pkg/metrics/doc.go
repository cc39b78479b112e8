// Package metrics registers the Prometheus gauges, counters, and
// histograms the reconciler and its collaborators update, plus a Timer
// helper for histogram observations and a small HTTP health/readiness
// surface (HealthHandler, ReadyHandler, LivenessHandler).
//
// scm_partial_replication_total is the one metric the handler's own design
// names explicitly: incremented whenever a reconciliation obtains fewer
// targets than additionalReplicaNeeded called for.
package metrics
