package scheduler

import "sync/atomic"

// State is the state of a Guard.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Guard admits at most one holder at a time without blocking.
type Guard struct {
	state atomic.Int32
}

// TryEnter moves the guard from Idle to Running. It reports false if already Running.
func (g *Guard) TryEnter() bool {
	return g.state.CompareAndSwap(int32(Idle), int32(Running))
}

// Leave returns the guard to Idle.
func (g *Guard) Leave() {
	g.state.Store(int32(Idle))
}

// State returns the current state.
func (g *Guard) State() State {
	return State(g.state.Load())
}
