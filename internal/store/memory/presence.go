// Package memory holds process-local stores for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
)

type PresenceStore struct {
	mu    sync.RWMutex
	users map[domain.UserID]domain.Presence
	// writes counts UpdatePresence calls per user.
	writes map[domain.UserID]int
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		users:  make(map[domain.UserID]domain.Presence),
		writes: make(map[domain.UserID]int),
	}
}

func (s *PresenceStore) UpdatePresence(_ context.Context, uid domain.UserID, isOnline bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[uid] = domain.Presence{UserID: uid, IsOnline: isOnline, LastSeen: lastSeen}
	s.writes[uid]++
	return nil
}

func (s *PresenceStore) FindPresence(_ context.Context, uid domain.UserID) (*domain.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[uid]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &p, nil
}

func (s *PresenceStore) Writes(uid domain.UserID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[uid]
}
