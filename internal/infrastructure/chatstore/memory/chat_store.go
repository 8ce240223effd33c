package memory

import (
	"context"
	"fmt"
	"sync"

	"coachmeet/internal/core/domain"
)

// MemoryChatStore keeps chat history in process memory. It is the fallback
// backend when no durable store is configured or reachable.
type MemoryChatStore struct {
	mu          sync.RWMutex
	messages    map[domain.MeetingID][]*domain.ChatMessage
	subscribers map[domain.MeetingID]map[int]func(*domain.ChatMessage)
	nextSubID   int
	closed      bool
}

func NewMemoryChatStore() *MemoryChatStore {
	return &MemoryChatStore{
		messages:    make(map[domain.MeetingID][]*domain.ChatMessage),
		subscribers: make(map[domain.MeetingID]map[int]func(*domain.ChatMessage)),
	}
}

func (s *MemoryChatStore) Append(ctx context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("chat store closed")
	}
	stored := *msg
	s.messages[msg.MeetingID] = append(s.messages[msg.MeetingID], &stored)
	fns := make([]func(*domain.ChatMessage), 0, len(s.subscribers[msg.MeetingID]))
	for _, fn := range s.subscribers[msg.MeetingID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		delivered := stored
		go fn(&delivered)
	}
	return nil
}

func (s *MemoryChatStore) Recent(ctx context.Context, meetingID domain.MeetingID, limit int) ([]*domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[meetingID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*domain.ChatMessage, 0, len(all)-start)
	for _, msg := range all[start:] {
		copied := *msg
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryChatStore) Subscribe(ctx context.Context, meetingID domain.MeetingID, onInsert func(*domain.ChatMessage)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("chat store closed")
	}
	if s.subscribers[meetingID] == nil {
		s.subscribers[meetingID] = make(map[int]func(*domain.ChatMessage))
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[meetingID][id] = onInsert

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers[meetingID], id)
	}
	return unsubscribe, nil
}

func (s *MemoryChatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subscribers = make(map[domain.MeetingID]map[int]func(*domain.ChatMessage))
	return nil
}
