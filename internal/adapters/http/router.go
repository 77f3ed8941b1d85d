package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/Pulse/internal/adapters/signal"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConnectionCounter is satisfied by the hub.
type ConnectionCounter interface {
	Connections() int64
}

// Pinger reports whether a backing database is reachable. Deps.DB stays nil
// when no store runs on a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Counter  ConnectionCounter
	DB       Pinger
	Signal   *signal.SignalWSController
	Presence core.PresenceStore
	Messages core.MessageStore
	// StoreTimeout bounds each store call made by a handler.
	StoreTimeout time.Duration
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  OriginAllowed(cfg.CORS),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(ClientTokenMiddleware())

	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 5 * time.Second
	}

	r.GET("/health", func(c *gin.Context) {
		var conns int64
		if deps.Counter != nil {
			conns = deps.Counter.Connections()
		}
		status, code, db := "ok", http.StatusOK, "disabled"
		if deps.DB != nil {
			db = "ok"
			if err := deps.DB.Ping(c.Request.Context()); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("database ping failed")
				status, code, db = "degraded", http.StatusServiceUnavailable, "down"
			}
		}
		c.JSON(code, gin.H{
			"status":      status,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"connections": conns,
			"db":          db,
		})
	})

	if deps.Signal != nil {
		r.GET("/socket", func(c *gin.Context) {
			log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("socket endpoint hit")
			deps.Signal.HandleSignal(ctx, c)
		})
	}

	api := r.Group("/api")
	api.GET("/presence/:userId", deps.getPresence)
	api.POST("/messages/read", deps.markRead)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func (d Deps) getPresence(c *gin.Context) {
	uid := domain.UserID(c.Param("userId"))
	if err := uid.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if d.Presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence store unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), d.StoreTimeout)
	defer cancel()
	p, err := d.Presence.FindPresence(ctx, uid)
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("user", string(uid)).Msg("presence lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
	default:
		c.JSON(http.StatusOK, p)
	}
}

type readRequest struct {
	SenderID   domain.UserID `json:"senderId"`
	ReceiverID domain.UserID `json:"receiverId"`
}

func (d Deps) markRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := errors.Join(req.SenderID.Validate(), req.ReceiverID.Validate()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if d.Messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message store unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), d.StoreTimeout)
	defer cancel()
	n, err := d.Messages.UpdateReadFlags(ctx, req.SenderID, req.ReceiverID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("read flag update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
