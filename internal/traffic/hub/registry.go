package hub

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/logger"
)

var (
	ErrRegistryClosed = errors.New("hub: registry closed")
	ErrDuplicateID    = errors.New("hub: subscriber id already registered")

	errStale = errors.New("hub: frame not newer than last delivered")
)

// Close reasons handed to Subscriber.Close by the registry.
const (
	ReasonNotOpen    = "not_open"
	ReasonSendFailed = "send_failed"
	ReasonShutdown   = "shutdown"
)

type Option func(*Registry)

// WithClock overrides the clock used to stamp initial_data envelopes.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry owns the set of live subscribers.
//
// Registration (with its catch-up frame) takes the write lock and broadcasts
// iterate under the read lock, so a new subscriber is either caught up before a
// broadcast starts or is not part of it.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
	closed  bool

	store *snapshot.Store
	now   func() time.Time
}

func NewRegistry(store *snapshot.Store, opts ...Option) *Registry {
	r := &Registry{
		members: make(map[string]*member, 256),
		store:   store,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds sub and, if a snapshot exists, sends it exactly one
// initial_data frame. A failed catch-up send leaves sub unregistered and closed.
func (r *Registry) Register(sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, dup := r.members[sub.ID()]; dup {
		return ErrDuplicateID
	}

	m := &member{Subscriber: sub}
	r.members[sub.ID()] = m

	cur, ok := r.store.Get()
	if !ok {
		return nil
	}
	f, err := Encode(TypeInitialData, cur, r.now())
	if err == nil {
		err = m.Send(f)
	}
	if err != nil {
		delete(r.members, sub.ID())
		sub.Close(ReasonSendFailed)
		return err
	}
	return nil
}

// Unregister removes sub. It reports whether sub was a member; calling it again
// is a no-op.
func (r *Registry) Unregister(sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(sub)
}

func (r *Registry) removeLocked(sub Subscriber) bool {
	m, ok := r.members[sub.ID()]
	if !ok {
		return false
	}
	if m != sub && m.Subscriber != sub {
		return false
	}
	delete(r.members, sub.ID())
	return true
}

// ForEachLive calls fn for every open member and returns how many calls
// succeeded. Members that are not open, or for which fn fails, are removed and
// closed once iteration is done; iteration itself never stops early.
func (r *Registry) ForEachLive(fn func(Subscriber) error) int {
	type gone struct {
		m      *member
		reason string
		err    error
	}
	var dead []gone
	delivered := 0

	r.mu.RLock()
	for _, m := range r.members {
		if m.State() != StateOpen {
			dead = append(dead, gone{m: m, reason: ReasonNotOpen})
			continue
		}
		err := fn(m)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, errStale):
		default:
			dead = append(dead, gone{m: m, reason: ReasonSendFailed, err: err})
		}
	}
	r.mu.RUnlock()

	if len(dead) == 0 {
		return delivered
	}

	r.mu.Lock()
	for _, d := range dead {
		r.removeLocked(d.m)
	}
	r.mu.Unlock()

	for _, d := range dead {
		if d.err != nil {
			logger.Log.Info("subscriber removed", zap.String("id", d.m.ID()), zap.String("reason", d.reason), zap.Error(d.err))
		}
		d.m.Close(d.reason)
	}
	return delivered
}

// Len is the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Close closes every member and rejects later registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	members := r.members
	r.members = make(map[string]*member)
	r.mu.Unlock()

	for _, m := range members {
		m.Close(ReasonShutdown)
	}
}
