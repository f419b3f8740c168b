// Package trace records simulation runs as Apache Arrow data.
// This package implements:
// - Schema definitions for the message trace and node snapshots
// - Recorder, an event sink collecting the current run
// - Arrow IPC stream serialization
package trace
