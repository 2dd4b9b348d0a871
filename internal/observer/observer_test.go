package observer

import (
	"testing"

	"github.com/GriffinCanCode/workerdom/internal/intern"
	"github.com/GriffinCanCode/workerdom/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	name   string
	parent *node
}

func (n *node) ParentNode() intern.Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) Creation(*intern.StringTable) []uint16 { return nil }

func tree() (root, child, other *node) {
	root = &node{name: "root"}
	child = &node{name: "child", parent: root}
	other = &node{name: "other"}
	return
}

func TestBatchesRecordsPerTurn(t *testing.T) {
	sched := scheduler.NewManual()
	d := NewDispatcher(sched)
	root, child, _ := tree()

	var calls [][]Record
	o := d.NewObserver(func(records []Record, _ *Observer) {
		calls = append(calls, records)
	})
	o.Observe(root)

	d.Dispatch(Record{Type: Attributes, Target: child, AttributeName: "a"})
	d.Dispatch(Record{Type: Attributes, Target: root, AttributeName: "b"})
	assert.Empty(t, calls)

	sched.RunMicrotasks()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, "a", calls[0][0].AttributeName)
	assert.Equal(t, "b", calls[0][1].AttributeName)
}

func TestIgnoresMutationsOutsideTarget(t *testing.T) {
	sched := scheduler.NewManual()
	d := NewDispatcher(sched)
	root, _, other := tree()

	called := false
	d.NewObserver(func([]Record, *Observer) { called = true }).Observe(root)

	d.Dispatch(Record{Type: ChildList, Target: other})
	assert.Equal(t, 0, sched.RunMicrotasks())
	assert.False(t, called)
}

func TestObserveReplacesTarget(t *testing.T) {
	sched := scheduler.NewManual()
	d := NewDispatcher(sched)
	root, _, other := tree()

	var got []Record
	o := d.NewObserver(func(records []Record, _ *Observer) { got = append(got, records...) })
	o.Observe(root)
	o.Observe(other)
	assert.Equal(t, 1, d.Observers())
	assert.Same(t, other, o.Target())

	d.Dispatch(Record{Type: ChildList, Target: root})
	d.Dispatch(Record{Type: ChildList, Target: other})
	sched.RunMicrotasks()
	require.Len(t, got, 1)
	assert.Same(t, other, got[0].Target)
}

func TestTakeRecordsDrainsQueue(t *testing.T) {
	sched := scheduler.NewManual()
	d := NewDispatcher(sched)
	root, child, _ := tree()

	calls := 0
	o := d.NewObserver(func([]Record, *Observer) { calls++ })
	o.Observe(root)

	d.Dispatch(Record{Type: CharacterData, Target: child})
	records := o.TakeRecords()
	require.Len(t, records, 1)

	sched.RunMicrotasks()
	assert.Equal(t, 0, calls)
}

func TestDisconnect(t *testing.T) {
	sched := scheduler.NewManual()
	d := NewDispatcher(sched)
	root, _, _ := tree()

	calls := 0
	o := d.NewObserver(func([]Record, *Observer) { calls++ })
	o.Observe(root)
	d.Dispatch(Record{Type: ChildList, Target: root})
	o.Disconnect()

	sched.RunMicrotasks()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, d.Observers())
}

func TestMultipleObserversShareOneFlush(t *testing.T) {
	sched := scheduler.NewManual()
	d := NewDispatcher(sched)
	root, child, _ := tree()

	var order []string
	d.NewObserver(func([]Record, *Observer) { order = append(order, "outer") }).Observe(root)
	d.NewObserver(func([]Record, *Observer) { order = append(order, "inner") }).Observe(child)

	d.Dispatch(Record{Type: ChildList, Target: child})
	assert.Equal(t, 1, sched.RunMicrotasks())
	assert.Equal(t, []string{"outer", "inner"}, order)
}
