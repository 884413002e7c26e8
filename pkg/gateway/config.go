package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/illmade-knight/go-mesh-gateway/pkg/cache"
	"github.com/illmade-knight/go-mesh-gateway/pkg/chunker"
	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/radio"
	"github.com/illmade-knight/go-mesh-gateway/pkg/ratelimit"
	"github.com/illmade-knight/go-mesh-gateway/pkg/router"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// Config aggregates every subsystem's settings. Optional subsystems are
// enabled by presence: an empty Redis address runs without the Redis layer,
// an empty MQTT broker URL runs without the radio link, and so on.
type Config struct {
	LogLevel string `yaml:"log_level"`
	HTTPPort string `yaml:"http_port"`
	MOTD     string `yaml:"motd"`

	Store     store.SQLiteConfig       `yaml:"store"`
	Redis     cache.RedisConfig        `yaml:"redis"`
	RateLimit ratelimit.Config         `yaml:"rate_limit"`
	Chunking  chunker.Config           `yaml:"chunking"`
	Router    router.Config            `yaml:"router"`
	MQTT      radio.MQTTConfig         `yaml:"mqtt"`
	Uplink    radio.PubSubUplinkConfig `yaml:"uplink"`

	// ProfileCacheSize sizes the in-process LRU in front of Redis/SQLite.
	ProfileCacheSize int `yaml:"profile_cache_size"`

	// Rules are operator-defined routing rules layered over the classifier.
	Rules []*classify.RouteRule `yaml:"rules"`
}

// DefaultConfig returns a runnable single-node configuration backed by a
// local SQLite file, with no Redis, MQTT or uplink.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		HTTPPort:         ":8080",
		Store:            store.DefaultSQLiteConfig("gateway.db"),
		RateLimit:        ratelimit.DefaultConfig(),
		Chunking:         chunker.DefaultConfig(),
		Router:           router.DefaultConfig(),
		MQTT:             radio.DefaultMQTTConfig(),
		Uplink:           radio.DefaultPubSubUplinkConfig(),
		ProfileCacheSize: 512,
		// Subscription commands classify to the bot; this rule routes them
		// to the weather service as well so the subscription sticks.
		Rules: []*classify.RouteRule{{
			Name:     "weather-subscriptions",
			Pattern:  `^(sub|unsub|subscribe|unsubscribe)\b`,
			Service:  classify.ServiceWeather,
			Priority: 5,
		}},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
