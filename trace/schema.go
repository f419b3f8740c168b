package trace

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// MessageSchema returns the Arrow schema for the message trace.
//
// Fields:
//   - seq: int64 - Event sequence number within the run
//   - from: int64 - Sending node id
//   - to: string - Destination node id, or "all"
//   - type: string - Protocol message type
//   - value: int64 - Value carried by the message
func MessageSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "seq", Type: arrow.PrimitiveTypes.Int64},
			{Name: "from", Type: arrow.PrimitiveTypes.Int64},
			{Name: "to", Type: arrow.BinaryTypes.String},
			{Name: "type", Type: arrow.BinaryTypes.String},
			{Name: "value", Type: arrow.PrimitiveTypes.Int64},
		},
		nil,
	)
}

// NodeStateSchema returns the Arrow schema for node snapshots. Every
// node_update event contributes one row per node.
//
// Fields:
//   - seq: int64 - Sequence number of the node_update event
//   - id: int64 - Node id
//   - is_primary: bool
//   - is_byzantine: bool
//   - phase: string - Protocol phase name
//   - decided_value: int64 (nullable)
//   - proposed_value: int64 (nullable)
//   - last_proposed_value: int64 (nullable)
//   - is_active: bool
func NodeStateSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "seq", Type: arrow.PrimitiveTypes.Int64},
			{Name: "id", Type: arrow.PrimitiveTypes.Int64},
			{Name: "is_primary", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "is_byzantine", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "phase", Type: arrow.BinaryTypes.String},
			{Name: "decided_value", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "proposed_value", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "last_proposed_value", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "is_active", Type: arrow.FixedWidthTypes.Boolean},
		},
		nil,
	)
}
