package consensus

import (
	"testing"
	"time"
)

func TestMultiSinkSkipsNil(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	sink := MultiSink(a, nil, b)

	sink.Emit(Event{Seq: 1, Kind: EventNodeUpdate})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("Expected both sinks to receive the event, got %d and %d", len(a.events), len(b.events))
	}
}

func TestPacedSink(t *testing.T) {
	rec := &recorder{}
	var slept []time.Duration
	sink := NewPacedSink(rec, func(d time.Duration) { slept = append(slept, d) })

	sink.Emit(Event{Kind: EventTick, Payload: TickPayload{Weight: 2, Pace: 10 * time.Millisecond}})
	sink.Emit(Event{Kind: EventTick, Payload: TickPayload{Weight: 1}})
	sink.Emit(Event{Kind: EventNewMessage, Payload: MessagePayload{}})

	if len(slept) != 1 || slept[0] != 20*time.Millisecond {
		t.Errorf("Expected a single 20ms sleep, got %v", slept)
	}
	if len(rec.events) != 3 {
		t.Errorf("Expected 3 forwarded events, got %d", len(rec.events))
	}
}

func TestSinkFunc(t *testing.T) {
	var got EventKind
	SinkFunc(func(ev Event) { got = ev.Kind }).Emit(Event{Kind: EventRunComplete})

	if got != EventRunComplete {
		t.Errorf("Expected run_complete, got %s", got)
	}
}
