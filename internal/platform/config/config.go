package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Server captures host process configuration. Everything is env-driven so
// main stays lean; zero values select in-memory backends.
type Server struct {
	Addr string

	// PostgresURL enables the Postgres relationship, metadata, and audit
	// stores when set. Empty means in-memory backends.
	PostgresURL string

	// RedisURL enables the Redis decision cache when set.
	RedisURL string

	// KafkaBrokers enables the Kafka audit mirror when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// TaskSigningKey signs task context tokens.
	TaskSigningKey string

	// AdminKeyHash is the bcrypt hash of the management API key. Empty
	// leaves the management surface unauthenticated (development only).
	AdminKeyHash string

	// ResourcesFile points at a JSON catalog of delegable resources for
	// the static scope directory.
	ResourcesFile string

	DefaultTaskTTL time.Duration
	CacheAllowTTL  time.Duration
	CacheDenyTTL   time.Duration
	SweepInterval  time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:           envOr("DELEGO_ADDR", ":8080"),
		PostgresURL:    os.Getenv("DELEGO_POSTGRES_URL"),
		RedisURL:       os.Getenv("DELEGO_REDIS_URL"),
		KafkaTopic:     envOr("DELEGO_KAFKA_TOPIC", "delego.audit"),
		TaskSigningKey: os.Getenv("DELEGO_TASK_SIGNING_KEY"),
		AdminKeyHash:   os.Getenv("DELEGO_ADMIN_KEY_HASH"),
		ResourcesFile:  os.Getenv("DELEGO_RESOURCES_FILE"),
		DefaultTaskTTL: durationOr("DELEGO_TASK_TTL", 30*time.Minute),
		CacheAllowTTL:  durationOr("DELEGO_CACHE_ALLOW_TTL", 60*time.Second),
		CacheDenyTTL:   durationOr("DELEGO_CACHE_DENY_TTL", 10*time.Second),
		SweepInterval:  durationOr("DELEGO_SWEEP_INTERVAL", time.Minute),
	}
	if brokers := os.Getenv("DELEGO_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

const devSigningKey = "dev-signing-key-not-for-production"

// ErrSigningKeyRequired rejects startup with durable backends but no
// signing key: a forgeable task token outlives the process there.
var ErrSigningKeyRequired = errors.New("DELEGO_TASK_SIGNING_KEY must be set when postgres, redis, or kafka backends are configured")

// ResolveSigningKey returns the task token signing key. A development key
// is substituted only for fully in-memory setups; isDev tells the host to
// warn about it.
func (c Server) ResolveSigningKey() (key string, isDev bool, err error) {
	if c.TaskSigningKey != "" {
		return c.TaskSigningKey, false, nil
	}
	if c.PostgresURL != "" || c.RedisURL != "" || len(c.KafkaBrokers) > 0 {
		return "", false, ErrSigningKeyRequired
	}
	return devSigningKey, true, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
