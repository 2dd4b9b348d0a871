package intern

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

var (
	ErrExhausted      = errors.New("id space exhausted")
	ErrOverrideClosed = errors.New("id override only allowed while initializing")
	ErrOverrideTaken  = errors.New("override id already assigned")
	ErrInvalidID      = errors.New("invalid node id")
)

// Node is a tree node the node table can intern. Identity is the interface
// value, so implementations should be pointers.
type Node interface {
	// ParentNode returns the parent, or nil for a detached node or a root.
	ParentNode() Node
	// Creation returns the node creation record
	// [id, nodeType, name, value, namespace], interning its strings in st.
	Creation(st *StringTable) []uint16
}

// NodeTable maps nodes to 1-based ids.
type NodeTable struct {
	ids      map[Node]uint16
	nodes    []Node // index is id; nodes[0] is always nil
	next     uint16
	pending  []Node
	override func() bool
}

// NewNodeTable creates an empty node table. allowOverride reports whether
// StoreOverride is currently permitted; nil forbids it.
func NewNodeTable(allowOverride func() bool) *NodeTable {
	return &NodeTable{
		ids:      make(map[Node]uint16),
		nodes:    []Node{nil},
		next:     1,
		override: allowOverride,
	}
}

// Store returns the id of n, assigning the next free id on first sight.
// A nil node maps to 0.
func (t *NodeTable) Store(n Node) uint16 {
	if n == nil {
		return 0
	}
	if id, ok := t.ids[n]; ok {
		return id
	}
	if int(t.next) > protocol.MaxNodes-1 {
		panic(fmt.Errorf("node table: %w after %d nodes", ErrExhausted, len(t.ids)))
	}
	id := t.next
	t.next++
	t.assign(n, id)
	return id
}

// StoreOverride assigns id to n so ids stay stable across hydration. It is
// only valid while the session is initializing. Storing a node that already
// has that id is a no-op.
func (t *NodeTable) StoreOverride(n Node, id uint16) (uint16, error) {
	if t.override == nil || !t.override() {
		return 0, ErrOverrideClosed
	}
	if n == nil || id == 0 || int(id) >= protocol.MaxNodes {
		return 0, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if existing, ok := t.ids[n]; ok {
		if existing == id {
			return id, nil
		}
		return 0, fmt.Errorf("%w: node already has id %d", ErrOverrideTaken, existing)
	}
	if int(id) < len(t.nodes) && t.nodes[id] != nil {
		return 0, fmt.Errorf("%w: %d", ErrOverrideTaken, id)
	}
	t.assign(n, id)
	if id >= t.next {
		t.next = id + 1
	}
	return id, nil
}

// Get returns the node with the given id, or nil.
func (t *NodeTable) Get(id uint16) Node {
	if int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// ID returns the id of n without assigning one.
func (t *NodeTable) ID(n Node) (uint16, bool) {
	id, ok := t.ids[n]
	return id, ok
}

// ConsumeNewNodes returns the nodes stored since the previous call and
// forgets them.
func (t *NodeTable) ConsumeNewNodes() []Node {
	out := t.pending
	t.pending = nil
	return out
}

// Len returns the number of interned nodes.
func (t *NodeTable) Len() int {
	return len(t.ids)
}

func (t *NodeTable) assign(n Node, id uint16) {
	for int(id) >= len(t.nodes) {
		t.nodes = append(t.nodes, nil)
	}
	t.nodes[id] = n
	t.ids[n] = id
	t.pending = append(t.pending, n)
}
