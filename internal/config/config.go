package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hireloop/signaling/internal/store"
)

type RoomConfig struct {
	MaxParticipants int           `mapstructure:"max_participants"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	JoinLimit       int           `mapstructure:"join_limit"`
	JoinInterval    time.Duration `mapstructure:"join_interval"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Room       RoomConfig    `mapstructure:"room"`
	Redis      store.Config  `mapstructure:"redis"`
}

// Load reads config/config.<env>.yaml selected by CONFIG_ENV, applies
// defaults, and lets command-line flags override file values.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("room.max_participants", 8)
	v.SetDefault("room.grace_period", "30s")
	v.SetDefault("room.join_limit", 10)
	v.SetDefault("room.join_interval", "1m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
