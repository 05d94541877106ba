package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends for the local snapshot cache.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePebble   = "pebble"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds runtime configuration values for the chat client.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	GatewayToken      string
	AllowOrigins      string
	APIURL            string
	SocketURL         string
	TokenFile         string
	Store             string
	RedisURL          string
	RedisPrefix       string
	SnapshotTTL       time.Duration
	PebbleDir         string
	SQLitePath        string
	DatabaseURL       string
	NATSURL           string
	GiphyAPIKey       string
	RequestTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

// HTTPAddress returns the address the local gateway should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") || strings.Contains(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf("127.0.0.1:%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA_CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Chat Client")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8090")
	v.SetDefault("gateway.allow_origins", "*")
	v.SetDefault("api.url", "http://localhost:5000/api")
	v.SetDefault("token.file", defaultTokenFile())
	v.SetDefault("store", StoreMemory)
	v.SetDefault("redis.prefix", "gema")
	v.SetDefault("snapshot.ttl", "0s")
	v.SetDefault("pebble.dir", filepath.Join(defaultDataDir(), "pebble"))
	v.SetDefault("sqlite.path", filepath.Join(defaultDataDir(), "chat.db"))
	v.SetDefault("request.timeout", "15s")
	v.SetDefault("reconnect.attempts", 5)
	v.SetDefault("reconnect.delay", "1s")
	v.SetDefault("heartbeat.interval", "30s")

	snapshotTTL, err := parseDuration(v, "snapshot.ttl")
	if err != nil {
		return Config{}, err
	}
	requestTimeout, err := parseDuration(v, "request.timeout")
	if err != nil {
		return Config{}, err
	}
	reconnectDelay, err := parseDuration(v, "reconnect.delay")
	if err != nil {
		return Config{}, err
	}
	heartbeat, err := parseDuration(v, "heartbeat.interval")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		GatewayToken:      v.GetString("gateway.token"),
		AllowOrigins:      v.GetString("gateway.allow_origins"),
		APIURL:            strings.TrimRight(v.GetString("api.url"), "/"),
		SocketURL:         v.GetString("socket.url"),
		TokenFile:         v.GetString("token.file"),
		Store:             strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		RedisURL:          v.GetString("redis.url"),
		RedisPrefix:       v.GetString("redis.prefix"),
		SnapshotTTL:       snapshotTTL,
		PebbleDir:         v.GetString("pebble.dir"),
		SQLitePath:        v.GetString("sqlite.path"),
		DatabaseURL:       v.GetString("database.url"),
		NATSURL:           v.GetString("nats.url"),
		GiphyAPIKey:       v.GetString("giphy.api_key"),
		RequestTimeout:    requestTimeout,
		ReconnectAttempts: v.GetInt("reconnect.attempts"),
		ReconnectDelay:    reconnectDelay,
		HeartbeatInterval: heartbeat,
	}

	if cfg.SocketURL == "" {
		cfg.SocketURL = socketFromAPI(cfg.APIURL)
	}

	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}

	switch cfg.Store {
	case StoreMemory, StorePebble, StoreSQLite:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("redis url must be provided for the redis store")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("database url must be provided for the postgres store")
		}
	default:
		return Config{}, fmt.Errorf("unknown store %q", cfg.Store)
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// socketFromAPI derives the realtime endpoint from the REST base by dropping
// a trailing /api segment.
func socketFromAPI(apiURL string) string {
	base := strings.TrimSuffix(apiURL, "/api")
	return base + "/ws"
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".gema-chat"
	}
	return filepath.Join(dir, "gema-chat")
}

func defaultTokenFile() string {
	return filepath.Join(defaultDataDir(), "token")
}
