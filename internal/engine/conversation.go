package engine

import (
	"fmt"
	"sync"
	"time"

	"appforge/internal/llm"
)

const conversationTTL = 1 * time.Hour

// Conversation is the engine's in-memory state for one conversation. The
// durable message history lives with the host application; this is working
// state for the turn loop.
type Conversation struct {
	ID       string
	Messages []llm.Message
	busy     bool
}

type conversationEntry struct {
	conv       *Conversation
	lastAccess time.Time
}

// ConversationStore keeps per-conversation state with TTL eviction. Multiple
// conversations run concurrently and are fully independent; at most one turn
// loop owns a conversation at a time.
type ConversationStore struct {
	mu      sync.Mutex
	entries map[string]*conversationEntry
	stop    chan struct{}
	once    sync.Once
}

// NewConversationStore creates a store and starts its eviction loop.
func NewConversationStore() *ConversationStore {
	s := &ConversationStore{
		entries: make(map[string]*conversationEntry),
		stop:    make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

// acquire returns the conversation for id, creating it if needed, and marks
// it busy. A conversation already owned by a running loop is an error: the
// engine supports exactly one turn loop per conversation.
func (s *ConversationStore) acquire(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &conversationEntry{conv: &Conversation{ID: id}}
		s.entries[id] = e
	}
	e.lastAccess = time.Now()
	if e.conv.busy {
		return nil, fmt.Errorf("conversation %s already has a running turn loop", id)
	}
	e.conv.busy = true
	return e.conv, nil
}

// release returns ownership after a loop finishes.
func (s *ConversationStore) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.conv.busy = false
		e.lastAccess = time.Now()
	}
}

// Get returns the conversation or nil.
func (s *ConversationStore) Get(id string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.conv
	}
	return nil
}

// Close stops the eviction loop.
func (s *ConversationStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *ConversationStore) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evict()
		case <-s.stop:
			return
		}
	}
}

func (s *ConversationStore) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-conversationTTL)
	for id, e := range s.entries {
		if !e.conv.busy && e.lastAccess.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}
