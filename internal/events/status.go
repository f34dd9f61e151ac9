package events

import "sync"

// StatusLine remembers the most recent user-facing message.
type StatusLine struct {
	mu   sync.RWMutex
	last *Event
}

// Handle records events that carry a message. Register it with Subscribe.
func (s *StatusLine) Handle(event *Event) {
	if event.Message == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.last = &cp
}

// Last returns a copy of the latest message event, or nil.
func (s *StatusLine) Last() *Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}
