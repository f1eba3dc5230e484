package state

import (
	"sync"

	"go.uber.org/atomic"
)

// State represents the recorder's global recording state
type State int32

const (
	Idle State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Recording:
		return "RECORDING"
	case Paused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether a capture session should be running
func (s State) Active() bool {
	return s == Recording || s == Paused
}

// Press is the kind of trigger that drives the state machine
type Press int

const (
	ShortPress Press = iota
	LongPress
)

func (p Press) String() string {
	if p == LongPress {
		return "long"
	}
	return "short"
}

// Next returns the state reached from s on press p.
// The second result is false when the press is a no-op in s.
func Next(s State, p Press) (State, bool) {
	switch {
	case s == Idle && p == LongPress:
		return Recording, true
	case s == Recording && p == ShortPress:
		return Paused, true
	case s == Paused && p == ShortPress:
		return Recording, true
	case s.Active() && p == LongPress:
		return Idle, true
	}
	return s, false
}

// Reader is the read-only view handed to capture loops and the orchestrator
type Reader interface {
	Current() State
}

// Holder owns the process-wide RecorderState and the one-shot remote timestamp slot.
// State reads are lock-free; the timestamp slot uses a short critical section.
type Holder struct {
	current  *atomic.Int32
	sessions *atomic.Uint64

	tsMutex   sync.Mutex
	timestamp string
	tsPending bool
}

// NewHolder creates a holder in the Idle state
func NewHolder() *Holder {
	return &Holder{
		current:  atomic.NewInt32(int32(Idle)),
		sessions: atomic.NewUint64(0),
	}
}

// Current returns the current state
func (h *Holder) Current() State {
	return State(h.current.Load())
}

// IsRecording reports whether a session is active (recording or paused)
func (h *Holder) IsRecording() bool {
	return h.Current().Active()
}

// IsPaused reports whether the active session is paused
func (h *Holder) IsPaused() bool {
	return h.Current() == Paused
}

// Apply feeds one press through the transition table
func (h *Holder) Apply(p Press) (from, to State, changed bool) {
	for {
		from = h.Current()
		to, changed = Next(from, p)
		if !changed {
			return from, from, false
		}
		if h.current.CAS(int32(from), int32(to)) {
			if from == Idle && to == Recording {
				h.sessions.Inc()
			}
			return from, to, true
		}
	}
}

// Sessions returns how many Idle->Recording transitions have happened
func (h *Holder) Sessions() uint64 {
	return h.sessions.Load()
}

// SetRemoteTimestamp stores the timestamp carried by the latest accepted remote command
func (h *Holder) SetRemoteTimestamp(ts string) {
	h.tsMutex.Lock()
	h.timestamp = ts
	h.tsPending = true
	h.tsMutex.Unlock()
}

// TakeRemoteTimestamp drains the timestamp slot. It returns false when the
// slot was never set or has already been drained.
func (h *Holder) TakeRemoteTimestamp() (string, bool) {
	h.tsMutex.Lock()
	defer h.tsMutex.Unlock()

	if !h.tsPending {
		return "", false
	}
	h.tsPending = false
	return h.timestamp, true
}
