package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string

	PostgresURL string
	RedisURL    string

	KafkaSeeds []string
	KafkaTopic string

	Reconcile ReconcileConfig
	Anomaly   AnomalyConfig
}

// ReconcileConfig holds the tenant-default reconciliation constants. The
// severity bands are configurable defaults, not fixed law; per-tenant
// overrides ride on top of these.
type ReconcileConfig struct {
	AvgSongDuration time.Duration
	MatchMax        int
	MinorMax        int
	SignificantMax  int
}

// AnomalyConfig holds the rolling-window access-violation rule settings.
type AnomalyConfig struct {
	FlaggedActionThreshold int
	FlaggedActionWindow    time.Duration
	RescanInterval         time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean.
func FromEnv() Server {
	addr := os.Getenv("NIGHTWATCH_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	topic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "nightwatch.audit"
	}

	var seeds []string
	if raw := os.Getenv("KAFKA_SEEDS"); raw != "" {
		seeds = strings.Split(raw, ",")
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaSeeds:    seeds,
		KafkaTopic:    topic,
		Reconcile: ReconcileConfig{
			AvgSongDuration: envDuration("AVG_SONG_DURATION", 210*time.Second),
			MatchMax:        envInt("VARIANCE_MATCH_MAX", 2),
			MinorMax:        envInt("VARIANCE_MINOR_MAX", 5),
			SignificantMax:  envInt("VARIANCE_SIGNIFICANT_MAX", 8),
		},
		Anomaly: AnomalyConfig{
			FlaggedActionThreshold: envInt("FLAGGED_ACTION_THRESHOLD", 3),
			FlaggedActionWindow:    envDuration("FLAGGED_ACTION_WINDOW", 24*time.Hour),
			RescanInterval:         envDuration("ANOMALY_RESCAN_INTERVAL", 15*time.Minute),
		},
	}
}

func envInt(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return def
}
