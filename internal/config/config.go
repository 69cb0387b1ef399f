package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every externally tunable knob. Values come from the
// environment (after godotenv has loaded .env in main) with the listed
// defaults; defaults mirror the model values of the matching protocol.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:"host=localhost user=user password=password dbname=pairgodb port=5432 sslmode=disable"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	JWTSecret string `envconfig:"JWT_SECRET" default:"dev-only-not-a-secret"`

	// HeartbeatInterval is how often a joined participant refreshes its
	// presence row. Must stay materially shorter than FreshnessWindow or
	// live participants get falsely excluded from matching.
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"15s"`
	// FreshnessWindow is the maximum staleness of last-active for a
	// participant to be considered a matching candidate.
	FreshnessWindow time.Duration `envconfig:"FRESHNESS_WINDOW" default:"60s"`
	// SearchInterval is the periodic retry cadence of findMatch while
	// searching.
	SearchInterval time.Duration `envconfig:"SEARCH_INTERVAL" default:"3s"`
	// CandidateBatch bounds the candidate query size under contention.
	CandidateBatch int `envconfig:"CANDIDATE_BATCH" default:"5"`
	// RematchGrace is the delay before re-entering search after a skip or
	// partner disconnect, to avoid a tight retry storm.
	RematchGrace time.Duration `envconfig:"REMATCH_GRACE" default:"1s"`
	// OfflineDelay is how long a disconnected participant stays in the
	// "unloading" limbo before being marked offline. A reconnect within
	// the window cancels the pending offline transition.
	OfflineDelay time.Duration `envconfig:"OFFLINE_DELAY" default:"2s"`
	// SnapshotTTL bounds how long a reload-resume snapshot stays readable.
	SnapshotTTL time.Duration `envconfig:"SNAPSHOT_TTL" default:"24h"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if cfg.HeartbeatInterval >= cfg.FreshnessWindow {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL (%s) must be shorter than FRESHNESS_WINDOW (%s)",
			cfg.HeartbeatInterval, cfg.FreshnessWindow)
	}
	return &cfg, nil
}
