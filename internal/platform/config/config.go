// Package config builds process configuration from environment variables so
// main stays lean. Every knob has a development default; production deploys
// override through the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Redis tunes the optional redis connection. An empty URL disables redis.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka names the brokers and topics. An empty broker list disables kafka;
// the process then runs with in-memory eventing only.
type Kafka struct {
	Brokers     []string
	EventsTopic string
	ChainTopic  string
	ChainGroup  string
	Partitions  int32
}

// Chain points at the authoritative source's query surface, used by the
// reconciler's snapshot pull.
type Chain struct {
	SnapshotURL string
}

// Config is the full process configuration.
type Config struct {
	Addr        string
	LogLevel    string
	DatabaseURL string
	Redis       Redis
	Kafka       Kafka
	Chain       Chain

	JWTSigningKey string

	FeeBps             int64
	VerificationWindow time.Duration
	SweepInterval      time.Duration
	ResyncInterval     time.Duration

	// RateLimit of 0 disables request throttling.
	RateLimit  int
	RateWindow time.Duration
}

// FromEnv reads the H2LEDGER_* environment.
func FromEnv() Config {
	return Config{
		Addr:        envDefault("H2LEDGER_ADDR", ":8080"),
		LogLevel:    envDefault("H2LEDGER_LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("H2LEDGER_DATABASE_URL"),
		Redis: Redis{
			URL:          os.Getenv("H2LEDGER_REDIS_URL"),
			PoolSize:     envInt("H2LEDGER_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("H2LEDGER_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("H2LEDGER_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("H2LEDGER_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("H2LEDGER_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:     envList("H2LEDGER_KAFKA_BROKERS"),
			EventsTopic: envDefault("H2LEDGER_EVENTS_TOPIC", "h2ledger.events"),
			ChainTopic:  envDefault("H2LEDGER_CHAIN_TOPIC", "h2ledger.chain"),
			ChainGroup:  envDefault("H2LEDGER_CHAIN_GROUP", "h2ledger-reconciler"),
			Partitions:  int32(envInt("H2LEDGER_TOPIC_PARTITIONS", 6)),
		},
		Chain: Chain{
			SnapshotURL: os.Getenv("H2LEDGER_CHAIN_SNAPSHOT_URL"),
		},
		// Development default only; override in any real deployment.
		JWTSigningKey:      envDefault("H2LEDGER_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		FeeBps:             int64(envInt("H2LEDGER_FEE_BPS", 250)),
		VerificationWindow: envDuration("H2LEDGER_VERIFICATION_WINDOW", 24*time.Hour),
		SweepInterval:      envDuration("H2LEDGER_SWEEP_INTERVAL", 10*time.Minute),
		ResyncInterval:     envDuration("H2LEDGER_RESYNC_INTERVAL", 5*time.Minute),
		RateLimit:          envInt("H2LEDGER_RATE_LIMIT", 120),
		RateWindow:         envDuration("H2LEDGER_RATE_WINDOW", time.Minute),
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
