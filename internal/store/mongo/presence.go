package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PresenceStore updates isOnline/lastSeen on the web app's user documents.
// Users are never created here.
type PresenceStore struct {
	users *mongo.Collection
}

func NewPresenceStore(db *DB) *PresenceStore {
	return &PresenceStore{users: db.Collection(usersCollection)}
}

func (s *PresenceStore) UpdatePresence(ctx context.Context, uid domain.UserID, isOnline bool, lastSeen time.Time) error {
	update := bson.M{"$set": bson.M{"isOnline": isOnline, "lastSeen": lastSeen}}
	res, err := s.users.UpdateOne(ctx, userFilter(uid), update)
	if err != nil {
		return fmt.Errorf("update presence %s: %w", uid, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update presence %s: %w", uid, core.ErrNotFound)
	}
	return nil
}

func (s *PresenceStore) FindPresence(ctx context.Context, uid domain.UserID) (*domain.Presence, error) {
	opts := options.FindOne().SetProjection(bson.M{"isOnline": 1, "lastSeen": 1})
	var p domain.Presence
	err := s.users.FindOne(ctx, userFilter(uid), opts).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find presence %s: %w", uid, err)
	}
	p.UserID = uid
	return &p, nil
}

// userFilter matches ObjectID keys written by the web app and falls back
// to plain string keys.
func userFilter(uid domain.UserID) bson.M {
	if oid, err := primitive.ObjectIDFromHex(string(uid)); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"_id": string(uid)}
}
