package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aushilfapp/chatsync/internal/bus"
)

// State is the application lifecycle state as seen by the sync engine.
type State string

const (
	Booting    State = "BOOTING"
	Foreground State = "FOREGROUND"
	Background State = "BACKGROUND"
	Error      State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:    {Foreground, Background, Error},
	Foreground: {Background, Error},
	Background: {Foreground, Error},
	Error:      {Booting},
}

// Parse maps a user-supplied name to a State.
func Parse(s string) (State, error) {
	switch st := State(s); st {
	case Booting, Foreground, Background, Error:
		return st, nil
	}
	switch s {
	case "foreground", "active":
		return Foreground, nil
	case "background", "inactive":
		return Background, nil
	}
	return "", fmt.Errorf("unknown app state %q", s)
}

// Machine tracks and enforces app state transitions.
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

// IsForeground reports whether foreground-only work may run.
func (m *Machine) IsForeground() bool {
	return m.Current() == Foreground
}

// Transition attempts to move to a new state. Moving to the current state
// is a no-op and publishes nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindAppStateChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for app state events.
type StatusChange struct {
	From State
	To   State
}
