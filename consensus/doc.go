// Package consensus provides the simulated PBFT consensus engine.
// This package implements:
// - Per-node state machine for the PRE-PREPARE, PREPARE, COMMIT and DECIDED phases
// - Quorum-based phase advancement
// - Byzantine fault injection (ignore, corrupt, delay, normal)
// - Orchestrator driving message delivery until convergence or stall
//
// The Orchestrator is not safe for concurrent use. Callers that share one
// across goroutines must serialize access (see engine.Simulator).
package consensus
