// Package regstate implements the per-node registration state machine,
// spec.md §4.3 (C3): states, legal transitions, a bounded transition
// history, and asynchronous listener notification that can never block a
// transition.
package regstate

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a registration lifecycle state.
type State int

const (
	Unregistered State = iota
	Registering
	Registered
	ReRegistering
	Deregistering
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "UNREGISTERED"
	case Registering:
		return "REGISTERING"
	case Registered:
		return "REGISTERED"
	case ReRegistering:
		return "RE_REGISTERING"
	case Deregistering:
		return "DEREGISTERING"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// legal holds the transition table from spec.md §4.3. UNREGISTERED is
// terminal once reached from DISCONNECTED or DEREGISTERING, but is also the
// valid starting state, so it is not absorbing from the zero value.
var legal = map[State]map[State]bool{
	Unregistered:  {Registering: true},
	Registering:   {Registered: true, Unregistered: true},
	Registered:    {Deregistering: true, Disconnected: true},
	Disconnected:  {ReRegistering: true, Unregistered: true},
	ReRegistering: {Registered: true, Unregistered: true},
	Deregistering: {Disconnected: true, Unregistered: true},
}

// historyLimit bounds the transition journal kept per machine.
const historyLimit = 32

// Transition is one recorded state change, newest-first in History().
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Listener is notified, asynchronously and in isolation, of every
// successful transition. A Listener must not retain mutable shared state
// across calls without its own synchronization (spec.md Design Notes §9).
type Listener interface {
	OnTransition(nodeID string, t Transition)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(nodeID string, t Transition)

func (f ListenerFunc) OnTransition(nodeID string, t Transition) { f(nodeID, t) }

// Machine is one node's registration state machine.
type Machine struct {
	nodeID string
	log    *zap.SugaredLogger

	mu      sync.Mutex
	state   State
	history []Transition

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New constructs a Machine for nodeID starting in the given initial state
// (normally Unregistered, or a restored state when recovering from the KV
// mirror on boot).
func New(nodeID string, initial State, log *zap.SugaredLogger) *Machine {
	return &Machine{
		nodeID: nodeID,
		log:    log.Named("regstate").With("nodeId", nodeID),
		state:  initial,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddListener registers a listener for this machine's transitions.
func (m *Machine) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Transition attempts to move the machine from its current state to to,
// recording reason. Illegal transitions leave the state unchanged and
// return false; callers decide what to do next (spec.md §4.3, §7).
func (m *Machine) Transition(to State, reason string) bool {
	m.mu.Lock()
	from := m.state
	if from == Unregistered && len(m.history) > 0 &&
		(m.history[0].From == Disconnected || m.history[0].From == Deregistering) {
		m.mu.Unlock()
		m.log.Debugw("transition out of terminal UNREGISTERED rejected", "to", to, "reason", reason)
		return false
	}
	if !legal[from][to] {
		m.mu.Unlock()
		m.log.Debugw("illegal transition rejected", "from", from, "to", to, "reason", reason)
		return false
	}
	m.state = to
	t := Transition{From: from, To: to, Reason: reason, At: time.Now()}
	m.history = append([]Transition{t}, m.history...)
	if len(m.history) > historyLimit {
		m.history = m.history[:historyLimit]
	}
	m.mu.Unlock()

	m.notify(t)
	return true
}

// History returns the bounded transition journal, newest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// notify dispatches to every listener on its own goroutine so a slow or
// panicking listener can never block the transition that triggered it.
func (m *Machine) notify(t Transition) {
	m.listenersMu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l := l
		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Errorw("state-change listener panicked", "panic", r)
				}
			}()
			l.OnTransition(m.nodeID, t)
		}()
	}
}
