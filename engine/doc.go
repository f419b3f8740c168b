// Package engine runs PBFT simulations.
// This package implements:
// - Worker pool with goroutines
// - Simulator command surface (start, reset, inject) serialized on one worker
// - Parameter sweeps measuring convergence across fault ratios
package engine
