package consensus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Outcome summarizes one Propose, Broadcast or Inject call.
type Outcome struct {
	// Converged is true once honest nodes agree, even if agreement
	// happened in an earlier call of the same run.
	Converged bool `json:"converged"`
	Value     int  `json:"value,omitempty"`
	// Broadcasts is the number of messages delivered by this call.
	Broadcasts int `json:"broadcasts"`
	// Truncated is set when MaxBroadcasts stopped the call early.
	Truncated bool `json:"truncated"`
	// Pending is the number of messages left undelivered.
	Pending int `json:"pending"`
}

// Orchestrator owns the node set of a run and delivers messages between
// nodes until no responses remain or honest nodes agree.
type Orchestrator struct {
	config Config
	sink   EventSink
	rng    Random
	log    zerolog.Logger

	nodes       []*Node
	params      RunParams
	initialized bool
	consensus   bool
	agreed      int

	seq  uint64
	step uint64
}

// NewOrchestrator creates an orchestrator. A nil sink discards events.
func NewOrchestrator(config Config, sink EventSink, rng Random, logger zerolog.Logger) (*Orchestrator, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidRunParams)
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Orchestrator{
		config: config,
		sink:   sink,
		rng:    rng,
		log:    logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Initialize builds a fresh node set. Node 0 is the primary and
// params.Byzantine distinct nodes are sampled as faulty.
func (o *Orchestrator) Initialize(params RunParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	selector := NewBehaviorSelector(o.rng)
	nodes := make([]*Node, params.Nodes)
	for i := range nodes {
		nodes[i] = newNode(i, i == 0, o.config.Quorum, o.tick, o.log)
	}

	faulty := sampleIDs(o.rng, params.Nodes, params.Byzantine)
	for _, id := range faulty {
		nodes[id].makeByzantine(selector)
	}

	o.nodes = nodes
	o.params = params
	o.initialized = true
	o.consensus = false
	o.agreed = 0
	o.step = 0

	o.log.Info().
		Int("nodes", params.Nodes).
		Ints("byzantine", faulty).
		Dur("pace", params.Pace).
		Msg("nodes initialized")

	o.emit(EventRunStarted, RunStartedPayload{
		Nodes:       params.Nodes,
		Byzantine:   params.Byzantine,
		ByzantineID: faulty,
		PaceMs:      params.Pace.Milliseconds(),
	})
	return nil
}

// sampleIDs draws k distinct ids from [0, n) with a partial Fisher-Yates shuffle.
func sampleIDs(rng Random, n, k int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	out := make([]int, k)
	copy(out, ids[:k])
	return out
}

// Reset discards every node and clears the consensus flag.
func (o *Orchestrator) Reset() {
	o.nodes = nil
	o.params = RunParams{}
	o.initialized = false
	o.consensus = false
	o.agreed = 0
	o.log.Info().Msg("run reset")
}

// Size returns the number of nodes in the current run.
func (o *Orchestrator) Size() int { return len(o.nodes) }

// Node returns the node with the given id.
func (o *Orchestrator) Node(id int) (*Node, error) {
	if err := o.checkID(id); err != nil {
		return nil, err
	}
	return o.nodes[id], nil
}

// ConsensusValue returns the agreed value once consensus was reached.
func (o *Orchestrator) ConsensusValue() (int, bool) {
	return o.agreed, o.consensus
}

// Snapshot returns the state of every node.
func (o *Orchestrator) Snapshot() []NodeState {
	states := make([]NodeState, len(o.nodes))
	for i, n := range o.nodes {
		states[i] = n.State()
	}
	return states
}

// Propose asks the primary to propose value and runs the resulting
// broadcast to completion.
func (o *Orchestrator) Propose(value int) (Outcome, error) {
	if !o.initialized {
		return Outcome{}, fmt.Errorf("%w: propose before initialize", ErrInvalidRunState)
	}
	if o.consensus {
		return Outcome{}, fmt.Errorf("%w: run already converged", ErrInvalidRunState)
	}

	msg, ok := o.nodes[0].Start(value)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: primary already proposed", ErrInvalidRunState)
	}
	o.log.Info().Int("value", value).Msg("proposing value")
	return o.run(msg), nil
}

// Broadcast delivers msg from its origin to every other node, followed by
// every response it triggers.
func (o *Orchestrator) Broadcast(msg Message) (Outcome, error) {
	if err := o.checkMessage(msg); err != nil {
		return Outcome{}, err
	}
	return o.run(msg), nil
}

// Inject delivers an externally supplied message. With TargetAll it
// behaves as Broadcast; otherwise only the addressed node receives it and
// its response, if any, is broadcast.
func (o *Orchestrator) Inject(req InjectRequest) (Outcome, error) {
	msg := req.Message()
	if err := o.checkMessage(msg); err != nil {
		return Outcome{}, err
	}
	if req.To == TargetAll {
		return o.run(msg), nil
	}
	if err := o.checkID(int(req.To)); err != nil {
		return Outcome{}, err
	}

	o.emit(EventNewMessage, MessagePayload{
		From:  msg.From(),
		To:    req.To,
		Type:  msg.Type(),
		Value: msg.Value(),
	})
	if o.consensus {
		return o.outcome(0, 0), nil
	}

	if resp, ok := o.nodes[req.To].Receive(msg); ok {
		return o.run(resp), nil
	}
	o.checkConsensus()
	o.emitSnapshot()
	out := o.outcome(0, 0)
	o.emit(EventRunComplete, out)
	return out, nil
}

func (o *Orchestrator) checkID(id int) error {
	if !o.initialized {
		return fmt.Errorf("%w: no active run", ErrInvalidRunState)
	}
	if id < 0 || id >= len(o.nodes) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidNodeID, id, len(o.nodes))
	}
	return nil
}

func (o *Orchestrator) checkMessage(msg Message) error {
	if msg.Type() < MsgPrePrepare || msg.Type() > MsgDecided {
		return fmt.Errorf("%w: %d", ErrUnknownMessageType, int(msg.Type()))
	}
	return o.checkID(msg.From())
}

// run drains a breadth-first delivery queue seeded with msg.
func (o *Orchestrator) run(msg Message) Outcome {
	queue := []Message{msg}
	delivered := 0
	for len(queue) > 0 && delivered < o.config.MaxBroadcasts {
		next := queue[0]
		queue = queue[1:]
		queue = append(queue, o.deliver(next)...)
		delivered++
	}

	out := o.outcome(delivered, len(queue))
	if out.Truncated {
		o.log.Warn().
			Int("broadcasts", delivered).
			Int("pending", len(queue)).
			Msg("broadcast limit reached, run stopped")
	} else if !out.Converged {
		o.log.Info().Int("broadcasts", delivered).Msg("no responses left, consensus not reached")
	}
	o.emit(EventRunComplete, out)
	return out
}

// deliver broadcasts one message and returns the responses it produced, in
// ascending node id order.
func (o *Orchestrator) deliver(msg Message) []Message {
	from := msg.From()
	o.nodes[from].lastProposed = intPtr(msg.Value())
	for _, n := range o.nodes {
		n.active = n.id == from
	}

	o.emit(EventNewMessage, MessagePayload{
		From:  from,
		To:    TargetAll,
		Type:  msg.Type(),
		Value: msg.Value(),
	})
	if o.consensus {
		return nil
	}

	var responses []Message
	for _, n := range o.nodes {
		if n.id == from {
			continue
		}
		if resp, ok := n.Receive(msg); ok {
			responses = append(responses, resp)
		}
	}

	o.checkConsensus()
	o.emitSnapshot()
	return responses
}

// checkConsensus sets the consensus flag when every honest node decided
// the same value. A run without honest nodes never converges.
func (o *Orchestrator) checkConsensus() {
	if o.consensus {
		return
	}

	var value *int
	for _, n := range o.nodes {
		if n.byzantine {
			continue
		}
		if n.phase != PhaseDecided || n.decided == nil {
			return
		}
		if value == nil {
			value = n.decided
		} else if *value != *n.decided {
			return
		}
	}
	if value == nil {
		return
	}

	o.consensus = true
	o.agreed = *value
	o.log.Info().Int("value", o.agreed).Msg("consensus reached")
	o.emit(EventConsensusReached, ConsensusPayload{Value: o.agreed})
}

func (o *Orchestrator) outcome(delivered, pending int) Outcome {
	return Outcome{
		Converged:  o.consensus,
		Value:      o.agreed,
		Broadcasts: delivered,
		Truncated:  pending > 0,
		Pending:    pending,
	}
}

// tick is handed to nodes as their pause hook.
func (o *Orchestrator) tick(nodeID, weight int) {
	o.step++
	o.emit(EventTick, TickPayload{
		Step:   o.step,
		NodeID: nodeID,
		Weight: weight,
		Pace:   o.params.Pace,
	})
}

func (o *Orchestrator) emitSnapshot() {
	o.emit(EventNodeUpdate, NodeUpdatePayload{Nodes: o.Snapshot()})
}

func (o *Orchestrator) emit(kind EventKind, payload interface{}) {
	o.seq++
	o.sink.Emit(Event{Seq: o.seq, Kind: kind, Payload: payload})
}
