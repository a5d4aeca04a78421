package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the bridge configuration.
type Config struct {
	Host         string
	Port         string
	SQLiteDBPath string
	JWTSecret    string

	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	SSDPDiscoveryTimeoutMs int
	SSDPDiscoveryPasses    int
	SSDPPassIntervalMs     int
	// StaticPlayers are probed when SSDP finds nothing (host names or IPs).
	StaticPlayers  []string
	SonosTimeoutMs int

	// Poll loop cadence. The interval starts at the minimum and doubles on
	// failed discovery up to the maximum.
	PollIntervalMinMs int
	PollIntervalMaxMs int

	// UPnP event subscription settings
	SubscriptionTimeoutSec int
	CallbackHost           string
	CallbackPort           int

	ArtFetchTimeoutMs int
	ArtQueueSize      int

	KnownPlayerRetentionHours int
	AuditRetentionDays        int
	PruneSchedule             string
	FavoritesRefreshSchedule  string

	// MQTT state publishing is disabled when MQTTBroker is empty.
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
	MQTTQoS         int
	MQTTRetain      bool
}

// fileConfig is the optional YAML overlay read from CONFIG_FILE.
type fileConfig struct {
	Host     string   `yaml:"host"`
	Port     string   `yaml:"port"`
	Database string   `yaml:"database"`
	Players  []string `yaml:"players"`
	Poll     struct {
		MinMs int `yaml:"min_ms"`
		MaxMs int `yaml:"max_ms"`
	} `yaml:"poll"`
	Subscription struct {
		TimeoutSec   int    `yaml:"timeout_sec"`
		CallbackHost string `yaml:"callback_host"`
		CallbackPort int    `yaml:"callback_port"`
	} `yaml:"subscription"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		QoS         int    `yaml:"qos"`
	} `yaml:"mqtt"`
}

// Load reads configuration from an optional YAML file and environment
// variables. Environment variables win over file values.
func Load() (Config, error) {
	var file fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		parsed, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		file = parsed
	}

	port := envString("PORT", orString(file.Port, "9000"))
	callbackPort := envInt("UPNP_CALLBACK_PORT", file.Subscription.CallbackPort)
	if callbackPort == 0 {
		if parsed, err := strconv.Atoi(port); err == nil {
			callbackPort = parsed
		}
	}

	players := envCSV("SONOS_PLAYERS")
	if len(players) == 0 {
		players = append(players, file.Players...)
	}

	cfg := Config{
		Host:                      envString("HOST", orString(file.Host, "0.0.0.0")),
		Port:                      port,
		SQLiteDBPath:              envString("SQLITE_DB_PATH", orString(file.Database, "./data/sonos-bridge.db")),
		JWTSecret:                 envString("JWT_SECRET", ""),
		JWTAccessTokenExpirySec:   envInt("JWT_ACCESS_TOKEN_EXPIRY_SEC", 3600),
		JWTRefreshTokenExpirySec:  envInt("JWT_REFRESH_TOKEN_EXPIRY_SEC", 30*24*3600),
		SSDPDiscoveryTimeoutMs:    envInt("SSDP_DISCOVERY_TIMEOUT_MS", 3000),
		SSDPDiscoveryPasses:       envInt("SSDP_DISCOVERY_PASSES", 2),
		SSDPPassIntervalMs:        envInt("SSDP_PASS_INTERVAL_MS", 1000),
		StaticPlayers:             players,
		SonosTimeoutMs:            envInt("SONOS_TIMEOUT_MS", 5000),
		PollIntervalMinMs:         envInt("POLL_INTERVAL_MIN_MS", orInt(file.Poll.MinMs, 100)),
		PollIntervalMaxMs:         envInt("POLL_INTERVAL_MAX_MS", orInt(file.Poll.MaxMs, 5000)),
		SubscriptionTimeoutSec:    envInt("UPNP_SUBSCRIPTION_TIMEOUT", orInt(file.Subscription.TimeoutSec, 180)),
		CallbackHost:              envString("UPNP_CALLBACK_HOST", file.Subscription.CallbackHost),
		CallbackPort:              callbackPort,
		ArtFetchTimeoutMs:         envInt("ART_FETCH_TIMEOUT_MS", 10000),
		ArtQueueSize:              envInt("ART_QUEUE_SIZE", 32),
		KnownPlayerRetentionHours: envInt("KNOWN_PLAYER_RETENTION_HOURS", 24*7),
		AuditRetentionDays:        envInt("AUDIT_RETENTION_DAYS", 90),
		PruneSchedule:             envString("PRUNE_SCHEDULE", "@daily"),
		FavoritesRefreshSchedule:  envString("FAVORITES_REFRESH_SCHEDULE", "@every 1h"),
		MQTTBroker:                envString("MQTT_BROKER", file.MQTT.Broker),
		MQTTClientID:              envString("MQTT_CLIENT_ID", orString(file.MQTT.ClientID, "sonos-bridge")),
		MQTTUsername:              envString("MQTT_USERNAME", file.MQTT.Username),
		MQTTPassword:              envString("MQTT_PASSWORD", file.MQTT.Password),
		MQTTTopicPrefix:           envString("MQTT_TOPIC_PREFIX", orString(file.MQTT.TopicPrefix, "sonos")),
		MQTTQoS:                   envInt("MQTT_QOS", file.MQTT.QoS),
		MQTTRetain:                envBool("MQTT_RETAIN", true),
	}

	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" && len(secret) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.PollIntervalMinMs <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL_MIN_MS must be positive")
	}
	if cfg.PollIntervalMaxMs < cfg.PollIntervalMinMs {
		return Config{}, fmt.Errorf("POLL_INTERVAL_MAX_MS must not be below POLL_INTERVAL_MIN_MS")
	}
	if cfg.MQTTQoS < 0 || cfg.MQTTQoS > 2 {
		return Config{}, fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}

	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file: %w", err)
	}
	return parsed, nil
}

func orString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
