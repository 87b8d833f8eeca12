package hub

import "sync/atomic"

// State is the lifecycle of a subscriber handle.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Subscriber is a handle to one connected real-time client.
//
// Send must not block: it either queues the frame or fails. Close must be
// idempotent. Neither may call back into the Registry.
type Subscriber interface {
	ID() string
	State() State
	Send(f Frame) error
	Close(reason string)
}

// member wraps a registered subscriber with the version of the last frame it
// was given. Frames that are not newer are skipped, so a client that got
// initial_data for version N never also gets traffic_update for N.
type member struct {
	Subscriber
	last atomic.Uint64
}

func (m *member) Send(f Frame) error {
	for {
		prev := m.last.Load()
		if f.Version <= prev {
			return errStale
		}
		if m.last.CompareAndSwap(prev, f.Version) {
			return m.Subscriber.Send(f)
		}
	}
}
