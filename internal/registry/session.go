package registry

import "sync/atomic"

// State of a control session handle.
type State int32

const (
	// Armed: installed and not yet fired or ended.
	Armed State = iota
	// Fired: evicted by a newer controller.
	Fired
	// Consumed: ended by its own session.
	Consumed
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Consumed:
		return "consumed"
	}
	return "unknown"
}

// ControlSession is the single-use cancellation handle of one authorized
// controller. It leaves the Armed state exactly once.
type ControlSession struct {
	id      uint64
	state   atomic.Int32
	evicted chan struct{}
}

func newControlSession(id uint64) *ControlSession {
	return &ControlSession{id: id, evicted: make(chan struct{})}
}

func (s *ControlSession) ID() uint64 { return s.id }

func (s *ControlSession) State() State { return State(s.state.Load()) }

// Evicted is closed when the session is fired.
func (s *ControlSession) Evicted() <-chan struct{} { return s.evicted }

// Fire evicts the session. It reports false if the handle was already fired or consumed.
func (s *ControlSession) Fire() bool {
	if !s.state.CompareAndSwap(int32(Armed), int32(Fired)) {
		return false
	}
	close(s.evicted)
	return true
}

func (s *ControlSession) consume() bool {
	return s.state.CompareAndSwap(int32(Armed), int32(Consumed))
}
