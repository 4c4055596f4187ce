package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Agent     AgentConfig
	Backend   BackendConfig
	Channel   ChannelConfig
	Heartbeat HeartbeatConfig
	Tracker   TrackerConfig
	Notifier  NotifierConfig
	Storage   StorageConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

// AgentConfig covers the local control API the presentation layer talks to.
type AgentConfig struct {
	Host      string
	Port      string
	Env       string
	AuthToken string // empty disables local API auth
}

type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	IPProbeAddr    string
	IPProbeTimeout time.Duration
}

type ChannelConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	InvokeTimeout    time.Duration
	MaxReconnects    int
	ReconnectBase    time.Duration
}

type HeartbeatConfig struct {
	Interval time.Duration
	Enabled  bool
}

type TrackerConfig struct {
	Policy      string // replace, reject or queue
	HistorySize int
}

type NotifierConfig struct {
	Kind      string // log or mqtt
	BrokerURL string
	Topic     string
	ClientID  string
	SendWait  time.Duration
}

type StorageConfig struct {
	Path string
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	backendTimeout, err := time.ParseDuration(getEnv("BACKEND_REQUEST_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKEND_REQUEST_TIMEOUT: %w", err)
	}

	heartbeatInterval, err := time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}

	reconnectBase, err := time.ParseDuration(getEnv("CHANNEL_RECONNECT_BASE_DELAY", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHANNEL_RECONNECT_BASE_DELAY: %w", err)
	}

	return &Config{
		Agent: AgentConfig{
			Host:      getEnv("AGENT_HOST", "127.0.0.1"),
			Port:      getEnv("AGENT_PORT", "8085"),
			Env:       getEnv("ENV", "development"),
			AuthToken: getEnv("AGENT_AUTH_TOKEN", ""),
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_BASE_URL", "http://localhost:8080/api/v1"),
			RequestTimeout: backendTimeout,
			IPProbeAddr:    getEnv("IP_PROBE_ADDR", "8.8.8.8:80"),
			IPProbeTimeout: 3 * time.Second,
		},
		Channel: ChannelConfig{
			URL:              getEnv("CHANNEL_URL", "ws://localhost:8080/hub"),
			HandshakeTimeout: 10 * time.Second,
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			PingPeriod:       54 * time.Second,
			InvokeTimeout:    15 * time.Second,
			MaxReconnects:    getEnvAsInt("CHANNEL_MAX_RECONNECTS", 5),
			ReconnectBase:    reconnectBase,
		},
		Heartbeat: HeartbeatConfig{
			Interval: heartbeatInterval,
			Enabled:  getEnvAsBool("HEARTBEAT_ENABLED", true),
		},
		Tracker: TrackerConfig{
			Policy:      getEnv("REQUEST_POLICY", "replace"),
			HistorySize: getEnvAsInt("REQUEST_HISTORY_SIZE", 10),
		},
		Notifier: NotifierConfig{
			Kind:      getEnv("NOTIFIER_KIND", "log"),
			BrokerURL: getEnv("NOTIFIER_BROKER_URL", "tcp://localhost:1883"),
			Topic:     getEnv("NOTIFIER_TOPIC", "signpad/notifications"),
			ClientID:  getEnv("NOTIFIER_CLIENT_ID", "signpad-agent"),
			SendWait:  2 * time.Second,
		},
		Storage: StorageConfig{
			Path: getEnv("STORAGE_PATH", "data/signpad.db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
