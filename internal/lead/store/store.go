// Package store keeps active lead sessions and their document queues in
// memory. Queued file content never leaves the process, so a session that
// expires here loses its pending files.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/queue"
)

// Entry is one active session. Hold Lock while reading or changing Session.
type Entry struct {
	sync.Mutex
	Session *domain.LeadSession
	Queue   *queue.Queue

	lastSeen time.Time
}

// Store maps session ids to entries and forgets idle ones after ttl.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	ttl         time.Duration
	maxFileSize int64
	now         func() time.Time
}

// New creates a store. Queues created by it reject files above maxFileSize.
func New(ttl time.Duration, maxFileSize int64) *Store {
	return &Store{
		entries:     make(map[string]*Entry),
		ttl:         ttl,
		maxFileSize: maxFileSize,
		now:         time.Now,
	}
}

// Put registers session with an empty queue, replacing any previous entry.
func (s *Store) Put(session *domain.LeadSession) *Entry {
	e := &Entry{
		Session:  session,
		Queue:    queue.New(s.maxFileSize),
		lastSeen: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[session.ID]; ok {
		old.Queue.Reset()
	}
	s.entries[session.ID] = e
	return e
}

// LoadOrStore returns the entry already registered for session.ID, or
// registers session with an empty queue. loaded reports whether an existing
// entry won; its queue is left untouched.
func (s *Store) LoadOrStore(session *domain.LeadSession) (e *Entry, loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[session.ID]; ok {
		e.lastSeen = now
		return e, true
	}

	e = &Entry{
		Session:  session,
		Queue:    queue.New(s.maxFileSize),
		lastSeen: now,
	}
	s.entries[session.ID] = e
	return e, false
}

// Get returns the entry for id and marks it as recently used.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if ok {
		e.lastSeen = s.now()
	}
	return e, ok
}

// Delete forgets id and wipes its queued files.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok {
		e.Queue.Reset()
	}
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops entries idle for longer than ttl and returns how many went.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Entry
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.Queue.Reset()
	}
	return len(expired)
}

// Run sweeps every ttl/2 until ctx is done.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
