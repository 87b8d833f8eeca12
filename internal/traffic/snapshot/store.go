package snapshot

import "sync"

// Store owns the single current snapshot. Reads never observe a half-installed
// value; CompareAndSet is atomic with respect to Get and other CompareAndSet calls.
type Store struct {
	mu      sync.RWMutex
	current Snapshot
	present bool
	version uint64
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the current snapshot; ok is false until the first change is accepted.
func (s *Store) Get() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.present
}

// Version is the version of the current snapshot, 0 while absent.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// CompareAndSet installs candidate unless it is structurally equal to the current
// snapshot. It returns the installed snapshot (carrying its new version) and
// changed=true, or the untouched current snapshot and changed=false.
func (s *Store) CompareAndSet(candidate Snapshot) (Snapshot, bool) {
	if candidate.IsZero() {
		cur, _ := s.Get()
		return cur, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present && s.current.Equal(candidate) {
		return s.current, false
	}
	s.version++
	candidate.Version = s.version
	s.current = candidate
	s.present = true
	return candidate, true
}
