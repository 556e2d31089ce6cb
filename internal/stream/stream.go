// Package stream fans out credential lifecycle events to subscribers
// (the SSE monitoring endpoint). Replay events are the ones worth paging
// on: each marks a revoked credential family.
package stream

import (
	"context"
	"sync"
	"time"
)

// EventType classifies a security event.
type EventType string

const (
	EventLogin    EventType = "login"
	EventRotation EventType = "rotation"
	EventReplay   EventType = "replay_detected"
	EventLogout   EventType = "logout"
)

// Event is one credential lifecycle occurrence.
type Event struct {
	Type        EventType `json:"type"`
	PrincipalID string    `json:"principal_id,omitempty"`
	NodeID      string    `json:"node_id,omitempty"`
	At          time.Time `json:"at"`
}

// Stream broadcasts events to all active subscribers. Slow subscribers drop
// events instead of blocking publishers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Publish delivers the event to every subscriber without blocking.
func (s *Stream) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a consumer; the channel closes when ctx is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Subscribers reports the current consumer count.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
