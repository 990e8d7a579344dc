package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/hireloop/signaling/internal/adapters/http"
	signalws "github.com/hireloop/signaling/internal/adapters/signal"
	"github.com/hireloop/signaling/internal/app"
	"github.com/hireloop/signaling/internal/config"
	"github.com/hireloop/signaling/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("signaling", pflag.ExitOnError)
	flags.Int("port", 8080, "HTTP listen port")
	flags.String("mode", "release", "gin mode (debug or release)")
	flags.String("redis.addr", "localhost:6379", "redis address for room metadata")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	rooms, err := store.New(ctx, cfg.Redis, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect room store")
	}
	defer rooms.Close()

	registry := app.NewRegistry(cfg.Room.GracePeriod, &log.Logger)
	relay := app.NewRelay(registry, &log.Logger)
	limiter := app.NewJoinRateLimiter(cfg.Room.JoinLimit, cfg.Room.JoinInterval)

	ctl := &signalws.Controller{
		Registry: registry,
		Relay:    relay,
		Rooms:    rooms,
		Limiter:  limiter,
		Policy:   app.SimplePolicy{},
		Cfg:      cfg,
	}

	r := router.SetupRouter(ctx, cfg, rooms, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
