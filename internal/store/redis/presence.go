// Package redis keeps presence in Redis hashes for deployments where the
// relay should not write to the user collection.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	fieldOnline   = "isOnline"
	fieldLastSeen = "lastSeen"
)

type PresenceStore struct {
	client    goredis.UniversalClient
	keyPrefix string
}

func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("module", "store.redis").Str("addr", cfg.Addr).Msg("connected to redis")
	return client, nil
}

func NewPresenceStore(client goredis.UniversalClient, keyPrefix string) *PresenceStore {
	return &PresenceStore{client: client, keyPrefix: keyPrefix}
}

func (s *PresenceStore) key(uid domain.UserID) string {
	return s.keyPrefix + string(uid)
}

func (s *PresenceStore) UpdatePresence(ctx context.Context, uid domain.UserID, isOnline bool, lastSeen time.Time) error {
	online := "0"
	if isOnline {
		online = "1"
	}
	err := s.client.HSet(ctx, s.key(uid),
		fieldOnline, online,
		fieldLastSeen, lastSeen.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("update presence %s: %w", uid, err)
	}
	return nil
}

func (s *PresenceStore) FindPresence(ctx context.Context, uid domain.UserID) (*domain.Presence, error) {
	vals, err := s.client.HGetAll(ctx, s.key(uid)).Result()
	if errors.Is(err, goredis.Nil) || (err == nil && len(vals) == 0) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find presence %s: %w", uid, err)
	}
	return decodePresence(uid, vals)
}

func decodePresence(uid domain.UserID, vals map[string]string) (*domain.Presence, error) {
	p := &domain.Presence{UserID: uid, IsOnline: vals[fieldOnline] == "1"}
	if raw := vals[fieldLastSeen]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode lastSeen for %s: %w", uid, err)
		}
		p.LastSeen = t
	}
	return p, nil
}
