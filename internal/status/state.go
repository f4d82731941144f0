package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hubescolar/whatsapp/internal/bus"
)

// State is the lifecycle state of a single messaging session.
type State string

const (
	Uninitialized State = "uninitialized"
	Initializing  State = "initializing"
	AwaitingScan  State = "awaiting_scan"
	Ready         State = "ready"
	Disconnected  State = "disconnected"
	AuthFailed    State = "auth_failed"
)

// validTransitions defines allowed state transitions.
// AwaitingScan may repeat: each fresh pairing code replaces the previous one.
var validTransitions = map[State][]State{
	Uninitialized: {Initializing},
	Initializing:  {AwaitingScan, Ready, AuthFailed, Disconnected},
	AwaitingScan:  {AwaitingScan, Ready, AuthFailed, Disconnected},
	Ready:         {Disconnected, AuthFailed},
	Disconnected:  {Ready, AwaitingScan, AuthFailed},
	AuthFailed:    {},
}

// All lists every state in lifecycle order.
var All = []State{Uninitialized, Initializing, AwaitingScan, Ready, Disconnected, AuthFailed}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// TransitionError is returned for a move the state table does not allow.
type TransitionError struct {
	SessionID string
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition from %s to %s", e.SessionID, e.From, e.To)
}

// Machine tracks and enforces the state transitions of one session.
type Machine struct {
	mu        sync.RWMutex
	sessionID string
	current   State
	changedAt time.Time
	bus       *bus.Bus
}

// NewMachine creates a state machine starting in Uninitialized.
func NewMachine(sessionID string, b *bus.Bus) *Machine {
	return &Machine{
		sessionID: sessionID,
		current:   Uninitialized,
		changedAt: time.Now(),
		bus:       b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ChangedAt returns when the machine last entered its current state.
func (m *Machine) ChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}

// Transition attempts to move to a new state. Returns *TransitionError if the move is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.current, to) {
		return &TransitionError{SessionID: m.sessionID, From: m.current, To: to}
	}
	from := m.current
	m.current = to
	m.changedAt = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSessionStatusChanged,
			Timestamp: m.changedAt,
			Payload: StatusChange{
				SessionID: m.sessionID,
				From:      from,
				To:        to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	SessionID string
	From      State
	To        State
}
