package core

import (
	"fmt"
	"sync"
)

// EditSession tracks the one invoice of a kind that is currently being edited.
// Beginning an edit of a different invoice while one is open fails with
// ErrConcurrentEditConflict; beginning the same invoice again is a no-op.
type EditSession struct {
	mu      sync.Mutex
	current InvoiceID
}

func (s *EditSession) Begin(id InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" && s.current != id {
		return fmt.Errorf("editing %s, cannot begin %s: %w", s.current, id, ErrConcurrentEditConflict)
	}
	s.current = id
	return nil
}

// Current returns the invoice being edited, or "" when none.
func (s *EditSession) Current() InvoiceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel abandons the open edit.
func (s *EditSession) Cancel() {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
}

// End closes the edit of id. Ending an edit that isn't open does nothing.
func (s *EditSession) End(id InvoiceID) {
	s.mu.Lock()
	if s.current == id {
		s.current = ""
	}
	s.mu.Unlock()
}
