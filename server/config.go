package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds the service settings read from the environment.
type Config struct {
	HTTPAddr  string
	VsockPort uint32 // 0 serves TCP on HTTPAddr

	MaxWorkers int

	IndexerURL        string
	IndexerTimeout    time.Duration
	IndexerMaxRetries int

	DatabaseURL string
	DBMaxConns  int32

	SigningKeyPath string

	StaleAfter     time.Duration
	ReloadInterval time.Duration
}

func loadConfig() (*Config, error) {
	maxWorkers, err := getRequiredEnvInt("CLEARING_MAX_WORKERS")
	if err != nil {
		return nil, err
	}
	if maxWorkers < 1 {
		return nil, fmt.Errorf("CLEARING_MAX_WORKERS must be positive, got %d", maxWorkers)
	}

	indexerURL := os.Getenv("INDEXER_URL")
	if indexerURL == "" {
		return nil, fmt.Errorf("required environment variable INDEXER_URL is not set")
	}

	cfg := &Config{
		HTTPAddr:       getEnvString("CLEARING_HTTP_ADDR", ":8080"),
		MaxWorkers:     maxWorkers,
		IndexerURL:     indexerURL,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SigningKeyPath: os.Getenv("CLEARING_SIGNING_KEY"),
	}

	vsockPort, err := getEnvInt("CLEARING_VSOCK_PORT", 0)
	if err != nil {
		return nil, err
	}
	if vsockPort < 0 {
		return nil, fmt.Errorf("CLEARING_VSOCK_PORT must not be negative, got %d", vsockPort)
	}
	cfg.VsockPort = uint32(vsockPort)

	if cfg.IndexerMaxRetries, err = getEnvInt("INDEXER_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	dbMaxConns, err := getEnvInt("DATABASE_MAX_CONNS", 4)
	if err != nil {
		return nil, err
	}
	cfg.DBMaxConns = int32(dbMaxConns)

	if cfg.IndexerTimeout, err = getEnvDuration("INDEXER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getEnvDuration("CLEARING_STALE_AFTER", 0); err != nil {
		return nil, err
	}
	if cfg.ReloadInterval, err = getEnvDuration("CLEARING_RELOAD_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getRequiredEnvInt reads a required integer environment variable
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	if os.Getenv(key) == "" {
		return fallback, nil
	}
	return getRequiredEnvInt(key)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a duration like 30s)", key, value)
	}
	log.Printf("INFO: Using %s=%s from environment", key, d)
	return d, nil
}

func getEnvString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
