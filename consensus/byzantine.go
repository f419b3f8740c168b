package consensus

// Random is the source of randomness used for fault seeding and Byzantine
// behavior. *rand.Rand from golang.org/x/exp/rand satisfies it.
type Random interface {
	// Intn returns a uniform int in [0, n).
	Intn(n int) int
}

// Behavior is a Byzantine reaction to a received message.
type Behavior int

const (
	BehaviorIgnore Behavior = iota
	BehaviorCorrupt
	BehaviorDelay
	BehaviorNormal

	numBehaviors = 4
)

func (b Behavior) String() string {
	switch b {
	case BehaviorIgnore:
		return "ignore"
	case BehaviorCorrupt:
		return "corrupt"
	case BehaviorDelay:
		return "delay"
	case BehaviorNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// maxCorruptOffset is the largest amount added to a value by BehaviorCorrupt.
const maxCorruptOffset = 10

// BehaviorSelector picks a Byzantine behavior for every received message.
// The choice is independent per message, not fixed per node.
type BehaviorSelector struct {
	rng Random
}

// NewBehaviorSelector creates a selector drawing from rng.
func NewBehaviorSelector(rng Random) *BehaviorSelector {
	return &BehaviorSelector{rng: rng}
}

// Select returns a uniformly chosen behavior.
func (s *BehaviorSelector) Select() Behavior {
	return Behavior(s.rng.Intn(numBehaviors))
}

// corrupt perturbs value by an offset in [1, maxCorruptOffset].
func (s *BehaviorSelector) corrupt(value int) int {
	return value + 1 + s.rng.Intn(maxCorruptOffset)
}

// receiveByzantine handles msg on a faulty node.
func (n *Node) receiveByzantine(msg Message) (Message, bool) {
	behavior := n.selector.Select()
	n.log.Debug().
		Int("node", n.id).
		Stringer("behavior", behavior).
		Stringer("msg", msg).
		Msg("byzantine behavior selected")

	switch behavior {
	case BehaviorIgnore:
		return Message{}, false
	case BehaviorCorrupt:
		value := n.selector.corrupt(msg.Value())
		n.proposed = intPtr(value)
		return NewMessage(msg.Type(), value, n.id), true
	case BehaviorDelay:
		n.pause(2)
		return n.handle(msg)
	case BehaviorNormal:
		return n.handle(msg)
	default:
		return Message{}, false
	}
}
