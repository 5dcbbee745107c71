// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the voidd process needs at startup. It is built
// once in main and passed by reference; nothing here is ambient global state.
type Config struct {
	// Server
	ListenAddr string
	LogLevel   string

	// Sessions
	JWTSecret     string
	SessionExpiry time.Duration

	// Storage
	DBPath string

	// Chain
	RPCURL          string
	ContractAddress string
	// TEESignerKey is the hex secp256k1 key held by the TEE. Under ROFL the
	// runtime injects it; outside a TEE it must be provided explicitly.
	TEESignerKey string

	// Webhook
	AlchemySigningKey string

	// Background tasks
	CommitInterval       time.Duration
	PendingRetryInterval time.Duration
}

// Load reads configuration from the environment, honoring a .env file when
// present for development convenience.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":3000"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		SessionExpiry:        getDuration("SESSION_EXPIRY", 7*24*time.Hour),
		DBPath:               getEnv("DB_PATH", "./data"),
		RPCURL:               getEnv("RPC_URL", ""),
		ContractAddress:      getEnv("VOID_CONTRACT_ADDRESS", ""),
		TEESignerKey:         getEnv("TEE_SIGNER_KEY", ""),
		AlchemySigningKey:    getEnv("ALCHEMY_SIGNING_KEY", ""),
		CommitInterval:       getDuration("COMMIT_INTERVAL", 60*time.Second),
		PendingRetryInterval: getDuration("PENDING_RETRY_INTERVAL", 30*time.Second),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ContractAddress == "" {
		return nil, fmt.Errorf("VOID_CONTRACT_ADDRESS is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
