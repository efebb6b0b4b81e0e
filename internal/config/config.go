package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings, loaded from POLICYGATE_* environment
// variables.
type Config struct {
	ListenAddr  string
	DatabaseURL string

	EngineURL     string
	EngineTimeout time.Duration

	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	JWTSecret          string
	JWTAlgorithm       string
	JWTVerifySignature bool

	// AdminADGroup grants administrative privileges on the management API.
	AdminADGroup string

	SyncMaxAttempts     int
	SyncInitialInterval time.Duration

	RateBurst  int
	RatePerSec int
}

const envPrefix = "POLICYGATE_"

// Load reads configuration from the environment. Only the database and
// engine addresses are mandatory; everything else has workable defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:          env("LISTEN_ADDR", ":8080"),
		DatabaseURL:         env("PG_DSN", ""),
		EngineURL:           env("OPA_URL", ""),
		EngineTimeout:       envDuration("OPA_TIMEOUT", 5*time.Second),
		S3Bucket:            env("S3_BUCKET", ""),
		S3Region:            env("S3_REGION", "eu-central-1"),
		S3Endpoint:          env("S3_ENDPOINT", ""),
		AWSAccessKeyID:      env("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  env("AWS_SECRET_ACCESS_KEY", ""),
		JWTSecret:           env("JWT_SECRET", ""),
		JWTAlgorithm:        env("JWT_ALGORITHM", "HS256"),
		JWTVerifySignature:  envBool("JWT_VERIFY_SIGNATURE", false),
		AdminADGroup:        env("ADMIN_AD_GROUP", "infodir-admin"),
		SyncMaxAttempts:     envInt("SYNC_MAX_ATTEMPTS", 3),
		SyncInitialInterval: envDuration("SYNC_INITIAL_INTERVAL", time.Second),
		RateBurst:           envInt("RATE_BURST", 20),
		RatePerSec:          envInt("RATE_PER_SEC", 10),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: %sPG_DSN is required", envPrefix)
	}
	if cfg.EngineURL == "" {
		return Config{}, fmt.Errorf("config: %sOPA_URL is required", envPrefix)
	}
	if cfg.JWTVerifySignature && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: %sJWT_SECRET is required when signature verification is on", envPrefix)
	}
	return cfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := env(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := env(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := env(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
