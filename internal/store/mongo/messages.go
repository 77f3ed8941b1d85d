package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type messageDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	SenderID   string             `bson:"senderId"`
	ReceiverID string             `bson:"receiverId"`
	Content    string             `bson:"content"`
	Timestamp  time.Time          `bson:"timestamp"`
	IsRead     bool               `bson:"isRead"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

type MessageStore struct {
	messages *mongo.Collection
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{messages: db.Collection(messagesCollection)}
}

func (s *MessageStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	doc := messageDocument{
		SenderID:   string(msg.SenderID),
		ReceiverID: string(msg.ReceiverID),
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
		IsRead:     msg.IsRead,
		CreatedAt:  time.Now().UTC(),
	}
	res, err := s.messages.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid.Hex()
	}
	return nil
}

func (s *MessageStore) UpdateReadFlags(ctx context.Context, sender, receiver domain.UserID) (int64, error) {
	filter := bson.M{"senderId": string(sender), "receiverId": string(receiver), "isRead": false}
	res, err := s.messages.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"isRead": true}})
	if err != nil {
		return 0, fmt.Errorf("update read flags: %w", err)
	}
	return res.ModifiedCount, nil
}
