package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`

	CORS  CORSConfig  `mapstructure:"cors"`
	Hub   HubConfig   `mapstructure:"hub"`
	Store StoreConfig `mapstructure:"store"`
	Mongo MongoConfig `mapstructure:"mongo"`
	Redis RedisConfig `mapstructure:"redis"`
	Call  CallConfig  `mapstructure:"call"`
}

// CORSConfig lists the exact origins allowed plus one trusted hosting
// domain whose subdomains are all accepted.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustedDomain  string   `mapstructure:"trusted_domain"`
}

type HubConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
	// SlowPolicy is "kick" or "drop".
	SlowPolicy string `mapstructure:"slow_policy"`
}

type StoreConfig struct {
	// Messages is "mongo" or "memory".
	Messages string `mapstructure:"messages"`
	// Presence is "mongo", "redis" or "memory".
	Presence string `mapstructure:"presence"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CallConfig struct {
	STUNURLs    []string      `mapstructure:"stun_urls"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("cors.trusted_domain", "vercel.app")

	v.SetDefault("hub.send_buffer", 64)
	v.SetDefault("hub.write_timeout", "5s")
	v.SetDefault("hub.store_timeout", "5s")
	v.SetDefault("hub.rate_limit", 30)
	v.SetDefault("hub.rate_window", "10s")
	v.SetDefault("hub.slow_policy", "kick")

	v.SetDefault("store.messages", "mongo")
	v.SetDefault("store.presence", "mongo")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "social")
	v.SetDefault("mongo.connect_timeout", "10s")
	v.SetDefault("mongo.ping_timeout", "5s")
	v.SetDefault("mongo.max_pool_size", 50)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "presence:")

	v.SetDefault("call.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("call.ring_timeout", "45s")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// PULSE_* environment variables override both, e.g. PULSE_MONGO_URI.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("pulse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("messages", cfg.Store.Messages).
		Str("presence", cfg.Store.Presence).
		Msg("config ready")
	return &cfg, nil
}
