package memory

import (
	"context"
	"sync"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/google/uuid"
)

type MessageStore struct {
	mu       sync.RWMutex
	messages []domain.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

func (s *MessageStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	msg.ID = uuid.NewString()
	s.mu.Lock()
	s.messages = append(s.messages, *msg)
	s.mu.Unlock()
	return nil
}

func (s *MessageStore) UpdateReadFlags(_ context.Context, sender, receiver domain.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == sender && m.ReceiverID == receiver && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

// All returns a copy of every stored message in insertion order.
func (s *MessageStore) All() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
