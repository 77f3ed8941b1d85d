package domain

import (
	"errors"
	"time"
)

const MaxContentLen = 4096

var (
	ErrContentEmpty   = errors.New("empty message")
	ErrContentTooLong = errors.New("message too long")
)

// Message is the persisted chat record. Only IsRead changes after
// creation, and not through the relay.
type Message struct {
	ID         string    `json:"_id" bson:"-"`
	SenderID   UserID    `json:"senderId" bson:"senderId"`
	ReceiverID UserID    `json:"receiverId" bson:"receiverId"`
	Content    string    `json:"content" bson:"content"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	IsRead     bool      `json:"isRead" bson:"isRead"`
}

func NewMessage(sender, receiver UserID, content string, ts time.Time) (*Message, error) {
	if len(content) == 0 {
		return nil, ErrContentEmpty
	}
	if len(content) > MaxContentLen {
		return nil, ErrContentTooLong
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Timestamp:  ts.UTC(),
	}, nil
}
