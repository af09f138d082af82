// Package swarm supervises long-lived multi-agent swarms pursuing a goal.
//
// A Coordinator owns the in-memory swarm context table and a per-swarm
// lifecycle loop running one OODA (Observe-Orient-Decide-Act-Reflect) cycle
// per adaptation interval tick. Swarm lifecycle state moves
// FORMING -> PLANNING -> EXECUTING <-> SUSPENDED with terminal COMPLETED;
// every transition is published on the event bus.
//
// The invariant the coordinator maintains: a swarm's in-memory context exists
// exactly while its lifecycle ticker is active. Pausing or terminating a
// swarm atomically stops the ticker and drops the context so no orphaned
// cycle can run against stale state. Durable persistence lives entirely in
// the external StateStore collaborator.
//
// Invalid lifecycle transitions (resuming a swarm that is not suspended,
// terminating twice) are explicit errors, not silent no-ops.
package swarm
