// Package session tracks where each subscriber is in a multi-step chat interaction.
package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State is the step a subscriber's conversation is waiting on.
type State int

const (
	StateIdle State = iota
	StateAwaitingURL
	StateAwaitingFrequency
	StateAwaitingRemoval
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingURL:
		return "awaiting_url"
	case StateAwaitingFrequency:
		return "awaiting_frequency"
	case StateAwaitingRemoval:
		return "awaiting_removal"
	default:
		return "unknown"
	}
}

// Session is the conversation state of one subscriber.
type Session struct {
	SubscriberID string
	State        State
	// PendingURL carries the URL between the URL and frequency steps of /add.
	PendingURL string
	UpdatedAt  time.Time
}

// Store holds sessions in memory. Sessions untouched for the TTL fall back to idle.
type Store struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, Session]
	now      func() time.Time
}

// NewStore keeps up to size sessions for ttl each.
func NewStore(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	return &Store{
		sessions: expirable.NewLRU[string, Session](size, nil, ttl),
		now:      time.Now,
	}
}

// Get returns the subscriber's session, idle when none is stored.
func (s *Store) Get(subscriberID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions.Get(subscriberID); ok {
		return sess
	}
	return Session{SubscriberID: subscriberID, State: StateIdle}
}

// Set stores sess, stamping UpdatedAt.
func (s *Store) Set(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.UpdatedAt = s.now()
	s.sessions.Add(sess.SubscriberID, sess)
}

// Reset returns the subscriber to idle.
func (s *Store) Reset(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(subscriberID)
}

// Len reports how many sessions are held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}
