package presence

import (
	"context"
	"sync"
)

type memberKey struct {
	ns   string
	name string
}

// MemoryStore is the single-process Store variant.
type MemoryStore struct {
	mu        sync.RWMutex
	roomUsers map[memberKey]map[string]bool // (ns, room) -> set of userIDs
	userRooms map[memberKey]map[string]bool // (ns, user) -> set of rooms
}

// NewMemoryStore creates an empty in-memory membership store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roomUsers: make(map[memberKey]map[string]bool),
		userRooms: make(map[memberKey]map[string]bool),
	}
}

func (s *MemoryStore) AddUserToRoom(_ context.Context, ns, room, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rk := memberKey{ns, room}
	if s.roomUsers[rk] == nil {
		s.roomUsers[rk] = make(map[string]bool)
	}
	s.roomUsers[rk][userID] = true

	uk := memberKey{ns, userID}
	if s.userRooms[uk] == nil {
		s.userRooms[uk] = make(map[string]bool)
	}
	s.userRooms[uk][room] = true
	return nil
}

func (s *MemoryStore) RemoveUserFromRoom(_ context.Context, ns, room, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rk := memberKey{ns, room}
	if users := s.roomUsers[rk]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.roomUsers, rk)
		}
	}

	uk := memberKey{ns, userID}
	if rooms := s.userRooms[uk]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(s.userRooms, uk)
		}
	}
	return nil
}

func (s *MemoryStore) UsersInRoom(_ context.Context, ns, room string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := s.roomUsers[memberKey{ns, room}]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	return out, nil
}

func (s *MemoryStore) RoomsForUser(_ context.Context, ns, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := s.userRooms[memberKey{ns, userID}]
	out := make([]string, 0, len(rooms))
	for r := range rooms {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) CountUsersInRoom(_ context.Context, ns, room string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.roomUsers[memberKey{ns, room}])), nil
}

func (s *MemoryStore) Close() error { return nil }
