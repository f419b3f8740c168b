package consensus

import (
	"github.com/rs/zerolog"
)

// ackSet tracks, per value, the distinct node ids that acknowledged it.
type ackSet map[int]map[int]struct{}

// add records an ack for value from node and returns the ack count.
func (a ackSet) add(value, node int) int {
	voters, ok := a[value]
	if !ok {
		voters = make(map[int]struct{})
		a[value] = voters
	}
	voters[node] = struct{}{}
	return len(voters)
}

func (a ackSet) count(value int) int {
	return len(a[value])
}

// NodeState is a point-in-time snapshot of a node.
type NodeState struct {
	ID                int   `json:"id"`
	IsPrimary         bool  `json:"isPrimary"`
	IsByzantine       bool  `json:"isByzantine"`
	Phase             Phase `json:"phase"`
	DecidedValue      *int  `json:"decidedValue"`
	ProposedValue     *int  `json:"proposedValue"`
	LastProposedValue *int  `json:"lastProposedValue"`
	IsActive          bool  `json:"isActive"`
}

// Node is a single simulated replica.
type Node struct {
	id        int
	primary   bool
	byzantine bool
	view      int
	quorum    int

	prepared  ackSet
	committed ackSet
	phase     Phase

	decided      *int
	proposed     *int
	lastProposed *int
	active       bool

	// Values this node already advanced on; a met quorum fires once per value.
	prepareSent map[int]bool
	commitSent  map[int]bool
	decideSent  map[int]bool

	selector *BehaviorSelector
	pause    func(weight int)
	log      zerolog.Logger
}

func newNode(id int, primary bool, quorum int, pause func(nodeID, weight int), logger zerolog.Logger) *Node {
	n := &Node{
		id:          id,
		primary:     primary,
		quorum:      quorum,
		prepared:    make(ackSet),
		committed:   make(ackSet),
		phase:       PhaseIdle,
		prepareSent: make(map[int]bool),
		commitSent:  make(map[int]bool),
		decideSent:  make(map[int]bool),
		log:         logger,
	}
	n.pause = func(weight int) {
		if pause != nil {
			pause(id, weight)
		}
	}
	return n
}

// makeByzantine flags the node as faulty.
func (n *Node) makeByzantine(selector *BehaviorSelector) {
	n.byzantine = true
	n.selector = selector
}

// ID returns the node id.
func (n *Node) ID() int { return n.id }

// IsPrimary reports whether the node proposes values.
func (n *Node) IsPrimary() bool { return n.primary }

// IsByzantine reports whether the node is faulty.
func (n *Node) IsByzantine() bool { return n.byzantine }

// Phase returns the current phase.
func (n *Node) Phase() Phase { return n.phase }

// View returns the current view number. Views never change in this simulator.
func (n *Node) View() int { return n.view }

// DecidedValue returns the decided value, if any.
func (n *Node) DecidedValue() (int, bool) {
	if n.decided == nil {
		return 0, false
	}
	return *n.decided, true
}

// PreparedAcks returns the number of PREPARE acks recorded for value.
func (n *Node) PreparedAcks(value int) int { return n.prepared.count(value) }

// CommittedAcks returns the number of COMMIT acks recorded for value.
func (n *Node) CommittedAcks(value int) int { return n.committed.count(value) }

// Start proposes value. It only has an effect on an idle primary.
func (n *Node) Start(value int) (Message, bool) {
	if !n.primary || n.phase != PhaseIdle {
		return Message{}, false
	}
	n.proposed = intPtr(value)
	n.advance(PhasePrePrepare)
	return NewMessage(MsgPrePrepare, value, n.id), true
}

// Receive runs msg through the state machine and returns the response to
// broadcast, if any.
func (n *Node) Receive(msg Message) (Message, bool) {
	n.log.Debug().Int("node", n.id).Stringer("msg", msg).Msg("message received")
	n.pause(1)

	if n.byzantine {
		return n.receiveByzantine(msg)
	}
	return n.handle(msg)
}

// handle is the honest protocol handler.
func (n *Node) handle(msg Message) (Message, bool) {
	switch msg.Type() {
	case MsgPrePrepare:
		return n.handlePrePrepare(msg)
	case MsgPrepare:
		return n.handlePrepare(msg)
	case MsgCommit:
		return n.handleCommit(msg)
	default:
		return Message{}, false
	}
}

func (n *Node) handlePrePrepare(msg Message) (Message, bool) {
	v := msg.Value()
	n.advance(PhasePrepare)
	n.proposed = intPtr(v)
	if n.prepareSent[v] {
		return Message{}, false
	}
	n.prepareSent[v] = true
	return NewMessage(MsgPrepare, v, n.id), true
}

func (n *Node) handlePrepare(msg Message) (Message, bool) {
	v := msg.Value()
	if n.prepared.add(v, msg.From()) < n.quorum || n.commitSent[v] {
		return Message{}, false
	}
	n.commitSent[v] = true
	n.advance(PhaseCommit)
	return NewMessage(MsgCommit, v, n.id), true
}

func (n *Node) handleCommit(msg Message) (Message, bool) {
	v := msg.Value()
	if n.committed.add(v, msg.From()) < n.quorum || n.decideSent[v] {
		return Message{}, false
	}
	n.decideSent[v] = true
	n.advance(PhaseDecided)
	n.decided = intPtr(v)
	n.log.Debug().Int("node", n.id).Int("value", v).Msg("decided")
	return NewMessage(MsgDecided, v, n.id), true
}

// advance moves the node to p unless it is already further along.
func (n *Node) advance(p Phase) {
	if p > n.phase {
		n.phase = p
	}
}

// State returns a snapshot of the node.
func (n *Node) State() NodeState {
	return NodeState{
		ID:                n.id,
		IsPrimary:         n.primary,
		IsByzantine:       n.byzantine,
		Phase:             n.phase,
		DecidedValue:      copyInt(n.decided),
		ProposedValue:     copyInt(n.proposed),
		LastProposedValue: copyInt(n.lastProposed),
		IsActive:          n.active,
	}
}

func intPtr(v int) *int { return &v }

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}
