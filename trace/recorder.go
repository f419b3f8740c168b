package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Trace kinds accepted by Recorder.WriteIPC.
const (
	KindMessages = "messages"
	KindNodes    = "nodes"
)

// ErrUnknownKind is returned for trace kinds other than KindMessages and
// KindNodes.
var ErrUnknownKind = errors.New("unknown trace kind")

type messageRow struct {
	seq   uint64
	from  int
	to    string
	typ   string
	value int
}

type nodeRow struct {
	seq   uint64
	state consensus.NodeState
}

// Recorder is an event sink that keeps the message trace and node
// snapshots of the current run. A run_started event clears it. It is safe
// for concurrent use.
type Recorder struct {
	allocator memory.Allocator

	mu       sync.RWMutex
	messages []messageRow
	nodes    []nodeRow
}

// NewRecorder creates a new Recorder with the default memory allocator.
func NewRecorder() *Recorder {
	return NewRecorderWithAllocator(memory.DefaultAllocator)
}

// NewRecorderWithAllocator creates a Recorder building records with mem.
func NewRecorderWithAllocator(mem memory.Allocator) *Recorder {
	return &Recorder{allocator: mem}
}

// Emit records ev.
func (r *Recorder) Emit(ev consensus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch p := ev.Payload.(type) {
	case consensus.RunStartedPayload:
		r.messages = nil
		r.nodes = nil
	case consensus.MessagePayload:
		r.messages = append(r.messages, messageRow{
			seq:   ev.Seq,
			from:  p.From,
			to:    p.To.String(),
			typ:   p.Type.String(),
			value: p.Value,
		})
	case consensus.NodeUpdatePayload:
		for _, n := range p.Nodes {
			r.nodes = append(r.nodes, nodeRow{seq: ev.Seq, state: n})
		}
	}
}

// Counts returns the number of recorded messages and node rows.
func (r *Recorder) Counts() (messages, nodes int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages), len(r.nodes)
}

// MessageRecord builds an Arrow record of the message trace. The caller
// must release it.
func (r *Recorder) MessageRecord() arrow.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	builder := array.NewRecordBuilder(r.allocator, MessageSchema())
	defer builder.Release()

	seqBuilder := builder.Field(0).(*array.Int64Builder)
	fromBuilder := builder.Field(1).(*array.Int64Builder)
	toBuilder := builder.Field(2).(*array.StringBuilder)
	typeBuilder := builder.Field(3).(*array.StringBuilder)
	valueBuilder := builder.Field(4).(*array.Int64Builder)

	for _, m := range r.messages {
		seqBuilder.Append(int64(m.seq))
		fromBuilder.Append(int64(m.from))
		toBuilder.Append(m.to)
		typeBuilder.Append(m.typ)
		valueBuilder.Append(int64(m.value))
	}

	return builder.NewRecord()
}

// NodeRecord builds an Arrow record of every node snapshot. The caller
// must release it.
func (r *Recorder) NodeRecord() arrow.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	builder := array.NewRecordBuilder(r.allocator, NodeStateSchema())
	defer builder.Release()

	seqBuilder := builder.Field(0).(*array.Int64Builder)
	idBuilder := builder.Field(1).(*array.Int64Builder)
	primaryBuilder := builder.Field(2).(*array.BooleanBuilder)
	byzantineBuilder := builder.Field(3).(*array.BooleanBuilder)
	phaseBuilder := builder.Field(4).(*array.StringBuilder)
	decidedBuilder := builder.Field(5).(*array.Int64Builder)
	proposedBuilder := builder.Field(6).(*array.Int64Builder)
	lastBuilder := builder.Field(7).(*array.Int64Builder)
	activeBuilder := builder.Field(8).(*array.BooleanBuilder)

	for _, row := range r.nodes {
		n := row.state
		seqBuilder.Append(int64(row.seq))
		idBuilder.Append(int64(n.ID))
		primaryBuilder.Append(n.IsPrimary)
		byzantineBuilder.Append(n.IsByzantine)
		phaseBuilder.Append(n.Phase.String())
		appendOptional(decidedBuilder, n.DecidedValue)
		appendOptional(proposedBuilder, n.ProposedValue)
		appendOptional(lastBuilder, n.LastProposedValue)
		activeBuilder.Append(n.IsActive)
	}

	return builder.NewRecord()
}

func appendOptional(b *array.Int64Builder, v *int) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(int64(*v))
}

// WriteIPC streams the trace of the given kind to w.
func (r *Recorder) WriteIPC(w io.Writer, kind string) error {
	var record arrow.Record
	switch kind {
	case KindMessages:
		record = r.MessageRecord()
	case KindNodes:
		record = r.NodeRecord()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	defer record.Release()

	return WriteIPC(w, record)
}
