// Package observer delivers mutation records to observers in the same
// context, independently of the wire transfer.
//
// An observer watches one target and receives every record whose target is
// the observed node or one of its descendants. Records are queued per
// observer and delivered in one callback per turn, from a single microtask
// shared by all observers.
package observer

import (
	"github.com/GriffinCanCode/workerdom/internal/intern"
	"github.com/GriffinCanCode/workerdom/internal/scheduler"
)

// RecordType classifies a mutation record.
type RecordType string

const (
	Attributes    RecordType = "attributes"
	CharacterData RecordType = "characterData"
	ChildList     RecordType = "childList"
	Properties    RecordType = "properties"
)

// Record is the local form of one mutation.
type Record struct {
	Type               RecordType
	Target             intern.Node
	AddedNodes         []intern.Node
	RemovedNodes       []intern.Node
	PreviousSibling    intern.Node
	NextSibling        intern.Node
	AttributeName      string
	AttributeNamespace string
	PropertyName       string
	OldValue           string
	Value              string
}

// Callback receives the records queued for an observer since its last
// delivery, in the order the mutations happened.
type Callback func(records []Record, o *Observer)

// Dispatcher owns the observers of one session.
type Dispatcher struct {
	sched     scheduler.Scheduler
	observers []*Observer
	scheduled bool
}

// NewDispatcher creates a dispatcher flushing on sched.
func NewDispatcher(sched scheduler.Scheduler) *Dispatcher {
	return &Dispatcher{sched: sched}
}

// NewObserver creates an observer. It receives nothing until Observe is
// called.
func (d *Dispatcher) NewObserver(cb Callback) *Observer {
	return &Observer{dispatcher: d, callback: cb}
}

// Observers returns the number of observers with a target.
func (d *Dispatcher) Observers() int {
	return len(d.observers)
}

// Dispatch queues r for every observer watching its target or an ancestor.
func (d *Dispatcher) Dispatch(r Record) {
	if len(d.observers) == 0 || r.Target == nil {
		return
	}
	queued := false
	for _, o := range d.observers {
		if within(r.Target, o.target) {
			o.queue = append(o.queue, r)
			queued = true
		}
	}
	if queued && !d.scheduled {
		d.scheduled = true
		d.sched.Microtask(d.flush)
	}
}

func (d *Dispatcher) flush() {
	d.scheduled = false
	// Snapshot so callbacks that observe or disconnect do not disturb this
	// round.
	observers := append([]*Observer(nil), d.observers...)
	for _, o := range observers {
		records := o.TakeRecords()
		if len(records) > 0 {
			o.callback(records, o)
		}
	}
}

func (d *Dispatcher) add(o *Observer) {
	for _, existing := range d.observers {
		if existing == o {
			return
		}
	}
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) remove(o *Observer) {
	for i, existing := range d.observers {
		if existing == o {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			return
		}
	}
}

// within reports whether target is node or one of its ancestors.
func within(node, target intern.Node) bool {
	for n := node; n != nil; n = n.ParentNode() {
		if n == target {
			return true
		}
	}
	return false
}

// Observer is one registered callback.
type Observer struct {
	dispatcher *Dispatcher
	callback   Callback
	target     intern.Node
	queue      []Record
}

// Observe starts watching target and its subtree. Observing again
// replaces the previous target.
func (o *Observer) Observe(target intern.Node) {
	o.target = target
	o.dispatcher.add(o)
}

// Disconnect stops delivery and drops queued records.
func (o *Observer) Disconnect() {
	o.dispatcher.remove(o)
	o.target = nil
	o.queue = nil
}

// TakeRecords returns and clears the queued records.
func (o *Observer) TakeRecords() []Record {
	records := o.queue
	o.queue = nil
	return records
}

// Target returns the observed node.
func (o *Observer) Target() intern.Node {
	return o.target
}
