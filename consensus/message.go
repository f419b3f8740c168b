package consensus

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MessageType identifies a protocol message.
type MessageType int

const (
	MsgPrePrepare MessageType = iota + 1
	MsgPrepare
	MsgCommit
	MsgDecided
)

func (t MessageType) String() string {
	switch t {
	case MsgPrePrepare:
		return "PRE-PREPARE"
	case MsgPrepare:
		return "PREPARE"
	case MsgCommit:
		return "COMMIT"
	case MsgDecided:
		return "DECIDED"
	default:
		return "UNKNOWN"
	}
}

// ParseMessageType parses a protocol message name such as "PREPARE".
func ParseMessageType(s string) (MessageType, error) {
	switch s {
	case "PRE-PREPARE":
		return MsgPrePrepare, nil
	case "PREPARE":
		return MsgPrepare, nil
	case "COMMIT":
		return MsgCommit, nil
	case "DECIDED":
		return MsgDecided, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessageType, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MessageType) MarshalText() ([]byte, error) {
	if t < MsgPrePrepare || t > MsgDecided {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MessageType) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Phase is a node's position in the protocol sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePrePrepare
	PhasePrepare
	PhaseCommit
	PhaseDecided
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePrePrepare:
		return "PRE-PREPARE"
	case PhasePrepare:
		return "PREPARE"
	case PhaseCommit:
		return "COMMIT"
	case PhaseDecided:
		return "DECIDED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Message is one protocol event. It is immutable once constructed.
type Message struct {
	typ   MessageType
	value int
	from  int
}

// NewMessage creates a message of the given type sent by node from.
func NewMessage(typ MessageType, value, from int) Message {
	return Message{typ: typ, value: value, from: from}
}

// Type returns the message type.
func (m Message) Type() MessageType { return m.typ }

// Value returns the proposed value the message refers to.
func (m Message) Value() int { return m.value }

// From returns the id of the originating node.
func (m Message) From() int { return m.from }

func (m Message) String() string {
	return fmt.Sprintf("%s(%d) from %d", m.typ, m.value, m.from)
}

// Target is the destination of an injected message: a node id or TargetAll.
type Target int

// TargetAll addresses every node.
const TargetAll Target = -1

func (t Target) String() string {
	if t == TargetAll {
		return "all"
	}
	return strconv.Itoa(int(t))
}

// MarshalJSON encodes TargetAll as "all" and node ids as numbers.
func (t Target) MarshalJSON() ([]byte, error) {
	if t == TargetAll {
		return []byte(`"all"`), nil
	}
	return []byte(strconv.Itoa(int(t))), nil
}

// UnmarshalJSON accepts "all", a number, or a numeric string.
func (t *Target) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "all" {
			*t = TargetAll
			return nil
		}
		id, err := strconv.Atoi(s)
		if err != nil || id < 0 {
			return fmt.Errorf("%w: target %q", ErrInvalidNodeID, s)
		}
		*t = Target(id)
		return nil
	}

	var id int
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("%w: target %s", ErrInvalidNodeID, string(data))
	}
	if id < 0 {
		return fmt.Errorf("%w: target %d", ErrInvalidNodeID, id)
	}
	*t = Target(id)
	return nil
}

// InjectRequest is a message pushed into the run from outside.
type InjectRequest struct {
	From  int         `json:"from"`
	To    Target      `json:"to"`
	Type  MessageType `json:"type"`
	Value int         `json:"value"`
}

// UnmarshalJSON decodes a request and rejects one without a target, which
// would otherwise address node 0.
func (r *InjectRequest) UnmarshalJSON(data []byte) error {
	type plain InjectRequest
	var wire struct {
		plain
		To *Target `json:"to"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.To == nil {
		return fmt.Errorf("%w: missing target", ErrInvalidNodeID)
	}
	*r = InjectRequest(wire.plain)
	r.To = *wire.To
	return nil
}

// Message converts the request into a protocol message.
func (r InjectRequest) Message() Message {
	return NewMessage(r.Type, r.Value, r.From)
}
