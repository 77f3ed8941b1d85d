package main

import (
	"context"
	"fmt"

	router "github.com/dkeye/Pulse/internal/adapters/http"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/store/memory"
	"github.com/dkeye/Pulse/internal/store/mongo"
	"github.com/dkeye/Pulse/internal/store/redis"
	"github.com/rs/zerolog/log"
)

type stores struct {
	presence core.PresenceStore
	messages core.MessageStore
	// db is set when a store runs on mongo.
	db      *mongo.DB
	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects only the backends the config names.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}

	var db *mongo.DB
	if cfg.Store.Messages == "mongo" || cfg.Store.Presence == "mongo" {
		var err error
		db, err = mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.closers = append(s.closers, func() { _ = db.Close(context.Background()) })
		if err := db.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("index setup failed")
		}
	}

	switch cfg.Store.Messages {
	case "mongo":
		s.messages = mongo.NewMessageStore(db)
	case "memory":
		s.messages = memory.NewMessageStore()
	default:
		s.close()
		return nil, fmt.Errorf("unknown message store %q", cfg.Store.Messages)
	}

	switch cfg.Store.Presence {
	case "mongo":
		s.presence = mongo.NewPresenceStore(db)
	case "redis":
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.presence = redis.NewPresenceStore(client, cfg.Redis.KeyPrefix)
	case "memory":
		s.presence = memory.NewPresenceStore()
	default:
		s.close()
		return nil, fmt.Errorf("unknown presence store %q", cfg.Store.Presence)
	}

	log.Info().Str("module", "main").Str("messages", cfg.Store.Messages).Str("presence", cfg.Store.Presence).Msg("stores ready")
	return s, nil
}

// dbPinger keeps a nil *mongo.DB from turning into a non-nil interface.
func dbPinger(db *mongo.DB) router.Pinger {
	if db == nil {
		return nil
	}
	return db
}
