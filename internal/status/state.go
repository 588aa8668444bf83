package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/rosterd/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting     State = "BOOTING"
	Reconciling State = "RECONCILING"
	Ready       State = "READY"
	// Degraded means a batch was dropped after exhausting its retries.
	Degraded State = "DEGRADED"
	Error    State = "ERROR"
)

// EventStatusChanged is published on every transition.
const EventStatusChanged = "session.status_changed"

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:     {Reconciling, Error},
	Reconciling: {Ready, Degraded, Error},
	Ready:       {Reconciling, Degraded, Error},
	Degraded:    {Ready, Reconciling, Error},
	Error:       {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(EventStatusChanged, StatusChange{From: from, To: to}))
	}
	return nil
}

// TransitionFrom moves to the new state only when the current state is one
// of from. It reports whether the transition happened.
func (m *Machine) TransitionFrom(to State, from ...State) bool {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if !slices.Contains(from, cur) {
		return false
	}
	return m.Transition(to) == nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
