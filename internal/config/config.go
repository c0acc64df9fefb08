package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application. It is built once in main
// and handed to each component; nothing reads the environment after startup.
type Config struct {
	// File paths
	FeedsCSVPath string
	DBPath       string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Engine settings
	WorkerCount  int
	ScanInterval time.Duration
	FetchTimeout time.Duration
	MaxItems     int
	UserAgent    string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		FeedsCSVPath: DefaultFeedsCSVPath,
		DBPath:       DefaultDBPath,
		ServerHost:   DefaultServerHost,
		ServerPort:   DefaultServerPort,
		APIKey:       GetEnvString("FEEDKEEPER_API_KEY", ""),
		WorkerCount:  DefaultWorkerCount,
		ScanInterval: time.Duration(DefaultScanInterval) * time.Minute,
		FetchTimeout: time.Duration(DefaultFetchTimeoutSec) * time.Second,
		MaxItems:     DefaultMaxItems,
		UserAgent:    DefaultUserAgent,
		LogLevel:     logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
