package worker

import (
	"sync"

	"github.com/book-expert/speaker-forge/internal/speaker"
)

// Session serialises access to a speaker store shared by concurrent handlers.
type Session struct {
	mu    sync.Mutex
	store *speaker.Store
}

// NewSession wraps store. The store must not be used directly afterwards.
func NewSession(store *speaker.Store) *Session {
	return &Session{store: store}
}

// Do runs fn with exclusive access to the store.
func (s *Session) Do(fn func(store *speaker.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(s.store)
}

// Update runs fn like Do. When fn fails, every change it made to the store is
// undone, including changes a failed save could not persist.
func (s *Session) Update(fn func(store *speaker.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.store.Snapshot()

	err := fn(s.store)
	if err != nil {
		s.store.Restore(snap)

		return err
	}

	return nil
}
