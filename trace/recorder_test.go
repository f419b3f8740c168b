package trace

import (
	"bytes"
	"errors"
	"testing"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
)

func runRecorded(t *testing.T, rec *Recorder, params consensus.RunParams, value int) (*consensus.Orchestrator, consensus.Outcome) {
	t.Helper()

	orch, err := consensus.NewOrchestrator(consensus.DefaultConfig(), rec, rand.New(rand.NewSource(3)), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	if err := orch.Initialize(params); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	out, err := orch.Propose(value)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	return orch, out
}

func TestRecorderMessageRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := NewRecorderWithAllocator(mem)
	_, out := runRecorded(t, rec, consensus.RunParams{Nodes: 4}, 42)

	record := rec.MessageRecord()
	defer record.Release()

	if int(record.NumRows()) != out.Broadcasts {
		t.Fatalf("Expected %d message rows, got %d", out.Broadcasts, record.NumRows())
	}
	if !record.Schema().Equal(MessageSchema()) {
		t.Errorf("Unexpected schema %s", record.Schema())
	}

	from := record.Column(1).(*array.Int64)
	to := record.Column(2).(*array.String)
	typ := record.Column(3).(*array.String)
	value := record.Column(4).(*array.Int64)

	if from.Value(0) != 0 || to.Value(0) != "all" || typ.Value(0) != "PRE-PREPARE" || value.Value(0) != 42 {
		t.Errorf("Unexpected first row: from=%d to=%s type=%s value=%d",
			from.Value(0), to.Value(0), typ.Value(0), value.Value(0))
	}

	seq := record.Column(0).(*array.Int64)
	for i := 1; i < seq.Len(); i++ {
		if seq.Value(i) <= seq.Value(i-1) {
			t.Fatalf("Sequence numbers not increasing at row %d", i)
		}
	}
}

func TestRecorderNodeRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := NewRecorderWithAllocator(mem)
	runRecorded(t, rec, consensus.RunParams{Nodes: 4}, 42)

	record := rec.NodeRecord()
	defer record.Release()

	rows := int(record.NumRows())
	if rows == 0 || rows%4 != 0 {
		t.Fatalf("Expected a multiple of 4 node rows, got %d", rows)
	}

	id := record.Column(1).(*array.Int64)
	primary := record.Column(2).(*array.Boolean)
	phase := record.Column(4).(*array.String)
	decided := record.Column(5).(*array.Int64)
	proposed := record.Column(6).(*array.Int64)

	// First snapshot follows the primary's PRE-PREPARE.
	if id.Value(0) != 0 || !primary.Value(0) {
		t.Error("First row should be the primary")
	}
	if !decided.IsNull(0) {
		t.Error("No node is decided after the first message")
	}
	if proposed.IsNull(0) || proposed.Value(0) != 42 {
		t.Error("Primary should carry its proposal")
	}

	// Last snapshot has every honest node decided on 42.
	for i := rows - 4; i < rows; i++ {
		if phase.Value(i) != "DECIDED" || decided.IsNull(i) || decided.Value(i) != 42 {
			t.Errorf("Node %d not decided on 42 in final snapshot", id.Value(i))
		}
	}
}

func TestRecorderResetsOnRunStarted(t *testing.T) {
	rec := NewRecorder()
	orch, _ := runRecorded(t, rec, consensus.RunParams{Nodes: 3}, 5)

	if msgs, nodes := rec.Counts(); msgs == 0 || nodes == 0 {
		t.Fatalf("Expected recorded trace, got %d messages and %d nodes", msgs, nodes)
	}

	if err := orch.Initialize(consensus.RunParams{Nodes: 3}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if msgs, nodes := rec.Counts(); msgs != 0 || nodes != 0 {
		t.Errorf("Expected empty trace after new run, got %d messages and %d nodes", msgs, nodes)
	}
}

func TestRecorderWriteIPC(t *testing.T) {
	rec := NewRecorder()
	_, out := runRecorded(t, rec, consensus.RunParams{Nodes: 4, Byzantine: 1}, 9)

	var buf bytes.Buffer
	if err := rec.WriteIPC(&buf, KindMessages); err != nil {
		t.Fatalf("WriteIPC failed: %v", err)
	}

	record, err := DeserializeFromIPC(buf.Bytes())
	if err != nil {
		t.Fatalf("DeserializeFromIPC failed: %v", err)
	}
	defer record.Release()

	if int(record.NumRows()) != out.Broadcasts {
		t.Errorf("Expected %d rows, got %d", out.Broadcasts, record.NumRows())
	}

	buf.Reset()
	if err := rec.WriteIPC(&buf, KindNodes); err != nil {
		t.Fatalf("WriteIPC failed: %v", err)
	}
	nodes, err := DeserializeFromIPC(buf.Bytes())
	if err != nil {
		t.Fatalf("DeserializeFromIPC failed: %v", err)
	}
	defer nodes.Release()
	if !nodes.Schema().Equal(NodeStateSchema()) {
		t.Errorf("Unexpected schema %s", nodes.Schema())
	}

	if err := rec.WriteIPC(&buf, "blocks"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestEmptyTraceSerializes(t *testing.T) {
	rec := NewRecorder()

	record := rec.MessageRecord()
	defer record.Release()

	data, err := SerializeToIPC(record)
	if err != nil {
		t.Fatalf("SerializeToIPC failed: %v", err)
	}
	back, err := DeserializeFromIPC(data)
	if err != nil {
		t.Fatalf("DeserializeFromIPC failed: %v", err)
	}
	defer back.Release()

	if back.NumRows() != 0 {
		t.Errorf("Expected 0 rows, got %d", back.NumRows())
	}
}

func TestDeserializeFromIPCInvalid(t *testing.T) {
	if _, err := DeserializeFromIPC([]byte("not arrow")); err == nil {
		t.Error("Expected error for invalid IPC data")
	}
}
