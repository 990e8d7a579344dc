// Package store keeps scheduling-facing room metadata in Redis: the opaque
// room identifier the signaling core consumes, a short shareable code, the
// creator and the participant bound. Live presence is not stored here; the
// registry owns it.
package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
)

const (
	keyRoom = "room:"
	keyCode = "roomcode:"

	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLen      = 7

	defaultTTL = 24 * time.Hour
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Metadata struct {
	ID              domain.RoomID `json:"id"`
	Code            string        `json:"code"`
	CreatorID       domain.UserID `json:"creator_id"`
	CreatedAt       time.Time     `json:"created_at"`
	MaxParticipants int           `json:"max_participants"`
}

type Rooms struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Rooms, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Rooms{
		rdb:    rdb,
		ttl:    defaultTTL,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

func (s *Rooms) Close() error { return s.rdb.Close() }

func (s *Rooms) Create(ctx context.Context, creator domain.UserID, maxParticipants int) (*Metadata, error) {
	meta := &Metadata{
		ID:              domain.RoomID(uuid.NewString()),
		Code:            generateCode(),
		CreatorID:       creator,
		CreatedAt:       time.Now().UTC(),
		MaxParticipants: maxParticipants,
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal room metadata: %w", err)
	}
	if err := s.rdb.Set(ctx, keyRoom+string(meta.ID), b, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store room: %w", err)
	}
	if err := s.rdb.Set(ctx, keyCode+meta.Code, string(meta.ID), s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store room code: %w", err)
	}
	s.logger.Info().
		Str("room", string(meta.ID)).
		Str("code", meta.Code).
		Str("creator", string(creator)).
		Msg("room created")
	return meta, nil
}

// Resolve accepts either a room ID or a shareable code.
func (s *Rooms) Resolve(ctx context.Context, idOrCode string) (*Metadata, error) {
	id := idOrCode
	if len(idOrCode) == codeLen {
		resolved, err := s.rdb.Get(ctx, keyCode+idOrCode).Result()
		if err == nil {
			id = resolved
		} else if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("resolve room code: %w", err)
		}
	}
	b, err := s.rdb.Get(ctx, keyRoom+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal room metadata: %w", err)
	}
	return &meta, nil
}

// Delete removes a room's metadata. Only the creator may delete.
func (s *Rooms) Delete(ctx context.Context, id domain.RoomID, requester domain.UserID) error {
	meta, err := s.Resolve(ctx, string(id))
	if err != nil {
		return err
	}
	if meta.CreatorID != requester {
		return core.ErrNotPermitted
	}
	if err := s.rdb.Del(ctx, keyRoom+string(id), keyCode+meta.Code).Err(); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	s.logger.Info().Str("room", string(id)).Msg("room deleted")
	return nil
}

func generateCode() string {
	out := make([]byte, codeLen)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			panic(fmt.Sprintf("generate room code: %v", err))
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out)
}
