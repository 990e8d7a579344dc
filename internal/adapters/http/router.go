// Package http wires the gin router: room-management REST API and the
// websocket signaling endpoint, both behind the JWT auth capability.
package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/signaling/internal/adapters/signal"
	"github.com/hireloop/signaling/internal/config"
	"github.com/hireloop/signaling/internal/store"
)

func SetupRouter(ctx context.Context, cfg *config.Config, rooms *store.Rooms, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	auth := JWTAuth(cfg.JWTSecret)

	roomsHandler := &roomsAPI{store: rooms, maxParticipants: cfg.Room.MaxParticipants}
	api.POST("/rooms", auth, roomsHandler.create)
	api.GET("/rooms/:roomId", roomsHandler.get)
	api.DELETE("/rooms/:roomId", auth, roomsHandler.delete)

	// The channel itself is authenticated: an unverified identity never
	// reaches join-room handling.
	api.GET("/ws/signal", auth, func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
