package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Bridge drivers understood by the event bridge.
const (
	BridgeDriverNATS  = "nats"
	BridgeDriverRedis = "redis"
)

// Config holds runtime configuration values for the realtime service.
type Config struct {
	AppName  string
	AppEnv   string
	AppPort  string
	LogLevel string

	// CORSOrigins is the comma separated origin list for browser clients.
	CORSOrigins string

	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	Bridge BridgeConfig

	ChatSendBuffer        int
	ChatAnnouncePresence  bool
	ChatRetention         time.Duration
	ChatRetentionInterval time.Duration
	ChatMentionTimeout    time.Duration

	UnreadCacheTTL  time.Duration
	StreamKeepAlive time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	ShutdownTimeout time.Duration
}

// BridgeConfig describes the message bus the event bridge subscribes to.
type BridgeConfig struct {
	// Enabled is derived once from Driver and URL; both must be set.
	Enabled         bool
	Driver          string
	URL             string
	Topics          []string
	Stream          string
	Consumer        string
	ShutdownTimeout time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TEAMHUB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "TeamHub Realtime")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("bridge.topics", "task.events,project.events,team.events")
	v.SetDefault("bridge.stream", "TEAMHUB_EVENTS")
	v.SetDefault("bridge.consumer", "teamhub-realtime")
	v.SetDefault("bridge.shutdown_timeout", "10s")
	v.SetDefault("chat.send_buffer", 64)
	v.SetDefault("chat.announce_presence", false)
	v.SetDefault("chat.retention", "0s")
	v.SetDefault("chat.retention_interval", "1h")
	v.SetDefault("chat.mention_timeout", "10s")
	v.SetDefault("notifications.unread_cache_ttl", "1m")
	v.SetDefault("notifications.stream_keepalive", "25s")
	v.SetDefault("ratelimit.max", 120)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("shutdown.timeout", "15s")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		LogLevel:             strings.ToLower(v.GetString("app.log_level")),
		CORSOrigins:          v.GetString("http.cors_origins"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		JWTSecret:            v.GetString("jwt.secret"),
		ChatSendBuffer:       v.GetInt("chat.send_buffer"),
		ChatAnnouncePresence: v.GetBool("chat.announce_presence"),
		RateLimitMax:         v.GetInt("ratelimit.max"),
		Bridge: BridgeConfig{
			Driver:   strings.ToLower(strings.TrimSpace(v.GetString("bridge.driver"))),
			URL:      strings.TrimSpace(v.GetString("bridge.url")),
			Topics:   splitList(v.GetString("bridge.topics")),
			Stream:   v.GetString("bridge.stream"),
			Consumer: v.GetString("bridge.consumer"),
		},
	}

	durations["bridge.shutdown_timeout"] = &cfg.Bridge.ShutdownTimeout
	durations["chat.retention"] = &cfg.ChatRetention
	durations["chat.retention_interval"] = &cfg.ChatRetentionInterval
	durations["chat.mention_timeout"] = &cfg.ChatMentionTimeout
	durations["notifications.unread_cache_ttl"] = &cfg.UnreadCacheTTL
	durations["notifications.stream_keepalive"] = &cfg.StreamKeepAlive
	durations["ratelimit.window"] = &cfg.RateLimitWindow
	durations["shutdown.timeout"] = &cfg.ShutdownTimeout

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed < 0 {
			return Config{}, fmt.Errorf("invalid %s: must not be negative", key)
		}
		*target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	switch cfg.Bridge.Driver {
	case "", BridgeDriverNATS, BridgeDriverRedis:
	default:
		return Config{}, fmt.Errorf("unsupported bridge driver %q", cfg.Bridge.Driver)
	}
	cfg.Bridge.Enabled = cfg.Bridge.Driver != "" && cfg.Bridge.URL != "" && len(cfg.Bridge.Topics) > 0

	if cfg.ChatSendBuffer <= 0 {
		cfg.ChatSendBuffer = 64
	}

	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 120
	}

	return cfg, nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
