package session

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	id int
	fn func(Transition)
}

// Machine holds the session State and delivers transitions to subscribers in dispatch order.
// A Dispatch issued from inside a subscriber is queued behind the transition being delivered.
type Machine struct {
	state State
	subs  []subscriber

	nextID     int
	pending    []Transition
	delivering bool

	log  zerolog.Logger
	lock sync.Mutex
}

type MachineOption func(*Machine)

func WithMachineLogger(l zerolog.Logger) MachineOption {
	return func(m *Machine) {
		m.log = l
	}
}

func NewMachine(options ...MachineOption) *Machine {
	m := &Machine{log: log.Logger}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Dispatch applies e and delivers the resulting transitions. It reports whether e was legal.
func (m *Machine) Dispatch(e Event) bool {
	ok := m.apply(e)
	m.flush()
	return ok
}

// OnTransition registers fn and returns a func that removes it.
func (m *Machine) OnTransition(fn func(Transition)) (unsubscribe func()) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	return func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state.Snapshot()
}

func (m *Machine) current() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

// apply reduces e into the state and queues the transitions without delivering them.
func (m *Machine) apply(e Event) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	next, ok := Reduce(m.state, e)
	if !ok {
		m.log.Debug().Str("event", e.Type.String()).Str("status", m.state.Status.String()).Msg("session.event.ignored")
		return false
	}

	from := m.state.Snapshot()
	to := next.Snapshot()
	m.pending = append(m.pending, Transition{Event: e.Type, Forced: e.Forced, From: from, To: to})
	m.log.Debug().Str("event", e.Type.String()).Str("from", from.Status.String()).Str("to", to.Status.String()).Msg("session.transition")

	if next.Status == Failed {
		normalised := Normalize(next)
		m.pending = append(m.pending, Transition{Event: e.Type, From: to, To: normalised.Snapshot()})
		m.log.Debug().Str("from", Failed.String()).Str("to", normalised.Status.String()).Msg("session.transition")
		next = normalised
	}
	m.state = next
	return true
}

// flush delivers queued transitions unless another goroutine, or an outer frame of this one,
// is already doing so.
func (m *Machine) flush() {
	m.lock.Lock()
	if m.delivering {
		m.lock.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		t := m.pending[0]
		m.pending = m.pending[1:]
		subs := append([]subscriber(nil), m.subs...)
		m.lock.Unlock()
		for _, s := range subs {
			s.fn(t)
		}
		m.lock.Lock()
	}
	m.delivering = false
	m.lock.Unlock()
}
