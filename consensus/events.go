package consensus

import (
	"time"
)

// EventKind names an event emitted to observers.
type EventKind string

const (
	EventRunStarted       EventKind = "run_started"
	EventNewMessage       EventKind = "new_message"
	EventTick             EventKind = "tick"
	EventNodeUpdate       EventKind = "node_update"
	EventConsensusReached EventKind = "consensus_reached"
	EventRunComplete      EventKind = "run_complete"
)

// Event is one observer notification. Payload holds one of the *Payload
// types below, matching Kind.
type Event struct {
	Seq     uint64      `json:"seq"`
	Kind    EventKind   `json:"event"`
	Payload interface{} `json:"payload"`
}

// RunStartedPayload is emitted by Initialize.
type RunStartedPayload struct {
	Nodes       int   `json:"nodes"`
	Byzantine   int   `json:"byzantine"`
	ByzantineID []int `json:"byzantineIds"`
	PaceMs      int64 `json:"paceMs"`
}

// MessagePayload is emitted before a message is processed.
type MessagePayload struct {
	From  int         `json:"from"`
	To    Target      `json:"to"`
	Type  MessageType `json:"type"`
	Value int         `json:"value"`
}

// TickPayload marks simulated processing time spent by a node.
type TickPayload struct {
	Step   uint64        `json:"step"`
	NodeID int           `json:"nodeId"`
	Weight int           `json:"weight"`
	Pace   time.Duration `json:"paceNs"`
}

// NodeUpdatePayload carries a snapshot of every node.
type NodeUpdatePayload struct {
	Nodes []NodeState `json:"nodes"`
}

// ConsensusPayload is emitted once per run when honest nodes agree.
type ConsensusPayload struct {
	Value int `json:"value"`
}

// EventSink receives events in orchestrator order. Emit must not call back
// into the orchestrator.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) { f(ev) }

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(Event) {}

type multiSink []EventSink

func (m multiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// MultiSink fans events out to every non-nil sink in order.
func MultiSink(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// PacedSink forwards events to next and sleeps weight*pace on every tick,
// reproducing real-time pacing for a live observer.
type PacedSink struct {
	next  EventSink
	sleep func(time.Duration)
}

// NewPacedSink creates a PacedSink. A nil sleep uses time.Sleep.
func NewPacedSink(next EventSink, sleep func(time.Duration)) *PacedSink {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &PacedSink{next: next, sleep: sleep}
}

// Emit forwards ev, sleeping first if it is a tick.
func (p *PacedSink) Emit(ev Event) {
	if tick, ok := ev.Payload.(TickPayload); ok && tick.Pace > 0 {
		p.sleep(time.Duration(tick.Weight) * tick.Pace)
	}
	p.next.Emit(ev)
}
