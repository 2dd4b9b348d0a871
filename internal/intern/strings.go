package intern

import (
	"fmt"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// StringTable maps strings to 0-based ids by value.
type StringTable struct {
	ids     map[string]uint16
	values  []string
	pending []uint16
}

// NewStringTable creates an empty string table.
func NewStringTable() *StringTable {
	return &StringTable{ids: make(map[string]uint16)}
}

// Store returns the id of s, assigning the next id on first sight.
func (t *StringTable) Store(s string) uint16 {
	if id, ok := t.ids[s]; ok {
		return id
	}
	if len(t.values) >= protocol.MaxStrings {
		panic(fmt.Errorf("string table: %w after %d strings", ErrExhausted, len(t.values)))
	}
	id := uint16(len(t.values))
	t.values = append(t.values, s)
	t.ids[s] = id
	t.pending = append(t.pending, id)
	return id
}

// Get returns the string with the given id.
func (t *StringTable) Get(id uint16) (string, bool) {
	if int(id) >= len(t.values) {
		return "", false
	}
	return t.values[id], true
}

// ConsumeNewStrings returns the strings stored since the previous call, in
// id order, and forgets them. Because ids are dense and first-seen, the
// remote side can append the result to its own list.
func (t *StringTable) ConsumeNewStrings() []string {
	if len(t.pending) == 0 {
		return nil
	}
	out := make([]string, len(t.pending))
	for i, id := range t.pending {
		out[i] = t.values[id]
	}
	t.pending = t.pending[:0]
	return out
}

// Len returns the number of interned strings.
func (t *StringTable) Len() int {
	return len(t.values)
}
