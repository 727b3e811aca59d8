// Package session keeps each visitor's form state isolated from every other
// visitor's.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/carprice/internal/form"
	"github.com/kalambet/carprice/internal/metrics"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

type entry struct {
	mu       sync.Mutex
	state    form.State
	lastSeen time.Time
}

// Store holds form sessions in memory. Expired sessions are dropped lazily
// when the store is touched; there is no background sweeper.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	idleTimeout time.Duration
	maxSessions int
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Options configures a Store. Zero values disable the corresponding limit.
type Options struct {
	IdleTimeout time.Duration
	MaxSessions int
	Metrics     *metrics.Metrics
}

func NewStore(opts Options) *Store {
	return &Store{
		sessions:    make(map[string]*entry),
		idleTimeout: opts.IdleTimeout,
		maxSessions: opts.MaxSessions,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// Create stores initial under a new random id and returns the id.
func (s *Store) Create(initial form.State) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	id := uuid.New().String()
	s.sessions[id] = &entry{state: initial, lastSeen: now}
	s.metrics.SetActiveSessions(len(s.sessions))
	return id
}

// Get returns the current state of session id.
func (s *Store) Get(id string) (form.State, error) {
	e, err := s.lookup(id)
	if err != nil {
		return form.State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Update replaces the state of session id with fn's result. Calls for the
// same session are serialized; calls for different sessions run in parallel.
func (s *Store) Update(id string, fn func(form.State) form.State) (form.State, error) {
	e, err := s.lookup(id)
	if err != nil {
		return form.State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = fn(e.state)
	return e.state, nil
}

// Delete forgets session id. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.metrics.SetActiveSessions(len(s.sessions))
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(s.now())
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = now
	return e, nil
}

func (s *Store) evictLocked(now time.Time) {
	if s.idleTimeout <= 0 {
		return
	}
	for id, e := range s.sessions {
		if now.Sub(e.lastSeen) > s.idleTimeout {
			delete(s.sessions, id)
		}
	}
	s.metrics.SetActiveSessions(len(s.sessions))
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.sessions {
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	delete(s.sessions, oldestID)
}
