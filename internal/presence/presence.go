package presence

import (
	"context"
	"sync"
)

// Store tracks which users currently have a conversation open.
// A user may hold several connections to the same room, so membership is counted.
type Store interface {
	Enter(ctx context.Context, conversationID, userID string) error
	Leave(ctx context.Context, conversationID, userID string) error
	IsInside(ctx context.Context, conversationID, userID string) (bool, error)
}

// LocalStore keeps presence in process memory; used when Redis is not configured.
type LocalStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]int
}

func NewLocalStore() *LocalStore {
	return &LocalStore{rooms: make(map[string]map[string]int)}
}

func (s *LocalStore) Enter(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[conversationID]
	if room == nil {
		room = make(map[string]int)
		s.rooms[conversationID] = room
	}
	room[userID]++
	return nil
}

func (s *LocalStore) Leave(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[conversationID]
	if room == nil {
		return nil
	}
	room[userID]--
	if room[userID] <= 0 {
		delete(room, userID)
	}
	if len(room) == 0 {
		delete(s.rooms, conversationID)
	}
	return nil
}

func (s *LocalStore) IsInside(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[conversationID][userID] > 0, nil
}
