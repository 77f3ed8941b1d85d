package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
)

var ErrNotFound = errors.New("not found")

// PresenceStore is the web app's user store as seen by the relay: it only
// reads and writes the online flag and last-seen time.
type PresenceStore interface {
	UpdatePresence(ctx context.Context, uid domain.UserID, isOnline bool, lastSeen time.Time) error
	FindPresence(ctx context.Context, uid domain.UserID) (*domain.Presence, error)
}

// MessageStore is append-only from the relay's point of view.
// CreateMessage fills in msg.ID.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	// UpdateReadFlags marks every unread message from sender to receiver
	// as read and reports how many changed.
	UpdateReadFlags(ctx context.Context, sender, receiver domain.UserID) (int64, error)
}
