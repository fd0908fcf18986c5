package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Empty infrastructure URLs
// mean "run without": no DATABASE_URL runs on the in-memory stores, no
// KAFKA_BROKERS disables the ledger relay.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	KafkaTopic    string
	AdminToken    string
	JWTSigningKey string

	// SeedFile points at a JSON list of official units loaded at boot;
	// RebuildFromLedger replays the sync ledger into the registry first.
	SeedFile          string
	RebuildFromLedger bool

	MatchHighThreshold float64
	MatchTieMargin     float64
	MatchFloor         float64

	CandidateCacheTTL time.Duration
	RelayPollInterval time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:               envOr("GEOSYNC_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		KafkaTopic:         envOr("KAFKA_TOPIC", "geosync.ledger"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		JWTSigningKey:      envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		SeedFile:           os.Getenv("SEED_FILE"),
		RebuildFromLedger:  envBool("REBUILD_FROM_LEDGER"),
		MatchHighThreshold: envFloat("MATCH_HIGH_THRESHOLD", 0.70),
		MatchTieMargin:     envFloat("MATCH_TIE_MARGIN", 0.10),
		MatchFloor:         envFloat("MATCH_FLOOR", 0.40),
		CandidateCacheTTL:  envDuration("CANDIDATE_CACHE_TTL", 5*time.Minute),
		RelayPollInterval:  envDuration("RELAY_POLL_INTERVAL", time.Second),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
