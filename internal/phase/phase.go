// Package phase holds the one-way protocol stage of a worker session.
//
//	Initializing -> Hydrating -> Mutating
//
// Nothing is transferred while Initializing. The first flush after leaving
// it is a HYDRATE message; every later flush is a MUTATE message.
package phase

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// ErrBackward is returned when a caller tries to move the phase backwards.
var ErrBackward = errors.New("phase cannot move backwards")

// Machine is the phase of one session. It is not safe for concurrent use.
type Machine struct {
	current protocol.Phase
	log     *zap.Logger
}

// New returns a machine in the Initializing phase. Rejected transitions are
// logged to log, which may be nil.
func New(log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{current: protocol.Initializing, log: log}
}

// Get returns the current phase.
func (m *Machine) Get() protocol.Phase {
	return m.current
}

// Set moves to p. Setting the current phase again is a no-op.
func (m *Machine) Set(p protocol.Phase) error {
	if p < m.current {
		m.log.Error("Rejected backward phase transition",
			zap.Stringer("from", m.current),
			zap.Stringer("to", p))
		return fmt.Errorf("%w: %s -> %s", ErrBackward, m.current, p)
	}
	if p > protocol.Mutating {
		return fmt.Errorf("unknown %s", p)
	}
	m.current = p
	return nil
}

// After reports whether the machine has moved past p.
func (m *Machine) After(p protocol.Phase) bool {
	return m.current > p
}
