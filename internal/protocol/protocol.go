package protocol

import "fmt"

// Phase is the protocol stage of a worker session.
type Phase uint8

const (
	Initializing Phase = iota
	Hydrating
	Mutating
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Hydrating:
		return "hydrating"
	case Mutating:
		return "mutating"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// MessageType tags every message crossing the context boundary.
type MessageType uint8

const (
	MsgEvent              MessageType = 1 // main -> worker
	MsgHydrate            MessageType = 2 // worker -> main
	MsgMutate             MessageType = 3 // worker -> main
	MsgFunction           MessageType = 4 // main -> worker, call an exported function
	MsgCallFunctionResult MessageType = 5 // main -> worker, reply to CallFunction
)

// String returns the string representation of the message type
func (t MessageType) String() string {
	switch t {
	case MsgEvent:
		return "EVENT"
	case MsgHydrate:
		return "HYDRATE"
	case MsgMutate:
		return "MUTATE"
	case MsgFunction:
		return "FUNCTION"
	case MsgCallFunctionResult:
		return "CALL_FUNCTION_RESULT"
	default:
		return fmt.Sprintf("message(%d)", uint8(t))
	}
}

// ObjectKind identifies what an object reference points at.
type ObjectKind uint8

const (
	KindNode ObjectKind = iota
	KindObject
	KindGlobal
)

// String returns the string representation of the kind
func (k ObjectKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindObject:
		return "object"
	case KindGlobal:
		return "global"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// NoString marks an absent string id in a record.
const NoString uint16 = 0xFFFF

// MaxStrings is the number of distinct strings a session can intern.
const MaxStrings = int(NoString)

// MaxNodes is the highest node id a session can assign.
const MaxNodes = 0xFFFF

// Result tags a FunctionCall record.
type Result uint16

const (
	Resolve Result = 0
	Reject  Result = 1
)

// StorageLocation selects the storage area of a Storage record.
type StorageLocation uint16

const (
	LocalStorage   StorageLocation = 0
	SessionStorage StorageLocation = 1
)

// StorageOperation is the action of a Storage record.
type StorageOperation uint16

const (
	StorageSet    StorageOperation = 0
	StorageRemove StorageOperation = 1
	StorageClear  StorageOperation = 2
)

// PropertyKind tags the value word of a Properties record.
type PropertyKind uint16

const (
	PropertyBool   PropertyKind = 0
	PropertyString PropertyKind = 1
)

// NodeType mirrors the DOM nodeType constants.
type NodeType uint16

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
	FragmentNode NodeType = 11
)

// CreationWords is the length of one node creation record:
// [id, nodeType, name, value, namespace].
const CreationWords = 5

// Event is a DOM event forwarded from main to worker.
type Event struct {
	Target uint16  `json:"target"`
	Type   string  `json:"type"`
	Value  *string `json:"value,omitempty"`
}

// FunctionCall asks the worker to run one of its exported functions.
type FunctionCall struct {
	Identifier string `json:"identifier"`
	Arguments  string `json:"arguments"`
	Index      uint32 `json:"index"`
}

// CallResult answers a CallFunction record.
type CallResult struct {
	Index   uint32 `json:"index"`
	Success bool   `json:"success"`
	Value   string `json:"value"`
}

// Message is the single envelope exchanged between contexts.
type Message struct {
	Type      MessageType   `json:"type"`
	Phase     Phase         `json:"phase"`
	Nodes     []uint16      `json:"nodes,omitempty"`
	Strings   []string      `json:"strings,omitempty"`
	Mutations []uint16      `json:"mutations,omitempty"`
	Event     *Event        `json:"event,omitempty"`
	Function  *FunctionCall `json:"function,omitempty"`
	Result    *CallResult   `json:"result,omitempty"`
}

// Clone deep-copies m so the receiver never shares memory with the sender.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Nodes = append([]uint16(nil), m.Nodes...)
	c.Strings = append([]string(nil), m.Strings...)
	c.Mutations = append([]uint16(nil), m.Mutations...)
	if m.Event != nil {
		ev := *m.Event
		if m.Event.Value != nil {
			v := *m.Event.Value
			ev.Value = &v
		}
		c.Event = &ev
	}
	if m.Function != nil {
		fn := *m.Function
		c.Function = &fn
	}
	if m.Result != nil {
		r := *m.Result
		c.Result = &r
	}
	return &c
}

// SplitUint32 returns the two words of v, low first.
func SplitUint32(v uint32) (lo, hi uint16) {
	return uint16(v), uint16(v >> 16)
}

// JoinUint32 reassembles a value written by SplitUint32.
func JoinUint32(lo, hi uint16) uint32 {
	return uint32(lo) | uint32(hi)<<16
}
