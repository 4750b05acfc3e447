// Package config provides configuration management for the tvidz inspector.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 5000
	DefaultLogLevel = "info"
	DefaultDataDir  = ".tvidz"

	// Environment variable names
	EnvPort       = "INSPECTOR_PORT"
	EnvLogLevel   = "INSPECTOR_LOG_LEVEL"
	EnvDataDir    = "INSPECTOR_DATA_DIR"
	EnvScratchDir = "INSPECTOR_SCRATCH_DIR"

	EnvDBDriver = "INSPECTOR_DB_DRIVER"
	EnvDBDSN    = "INSPECTOR_DB_DSN"

	EnvStorageEndpoint = "INSPECTOR_STORAGE_ENDPOINT"

	EnvSceneThreshold = "INSPECTOR_SCENE_THRESHOLD"
	EnvMinMatch       = "INSPECTOR_MIN_MATCH"
	EnvMatchEpsilon   = "INSPECTOR_MATCH_EPSILON"

	// Database filename for the sqlite driver
	DBFilename = "inspector.db"

	// Detector defaults
	DefaultSceneThreshold    = 0.3
	DefaultProbeTimeoutSecs  = 60
	DefaultDetectTimeoutSecs = 300
	DefaultStorageEndpoint   = "http://localstack:4566"
	DefaultPublishIntervalMS = 200
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	ScratchDir() string
	DBDriver() string
	DBDSN() string
	StorageEndpoint() string
	SceneThreshold() float64
	MinMatch() int
	MatchEpsilon() float64
	ProbeTimeout() time.Duration
	DetectTimeout() time.Duration
	PublishInterval() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port            int
	logLevel        string
	dataDir         string
	scratchDir      string
	dbDriver        string
	dbDSN           string
	storageEndpoint string
	sceneThreshold  float64
	minMatch        int
	matchEpsilon    float64
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		storageEndpoint: DefaultStorageEndpoint,
		sceneThreshold:  DefaultSceneThreshold,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if sd := os.Getenv(EnvScratchDir); sd != "" {
		cfg.scratchDir = sd
	}

	cfg.dbDriver = os.Getenv(EnvDBDriver)
	cfg.dbDSN = os.Getenv(EnvDBDSN)

	if se := os.Getenv(EnvStorageEndpoint); se != "" {
		cfg.storageEndpoint = se
	}

	if st := os.Getenv(EnvSceneThreshold); st != "" {
		threshold, err := strconv.ParseFloat(st, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvSceneThreshold, err)
		}
		if threshold <= 0 || threshold >= 1 {
			return nil, fmt.Errorf("invalid %s: threshold must be in (0, 1)", EnvSceneThreshold)
		}
		cfg.sceneThreshold = threshold
	}

	if mm := os.Getenv(EnvMinMatch); mm != "" {
		minMatch, err := strconv.Atoi(mm)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMinMatch, err)
		}
		if minMatch < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMinMatch)
		}
		cfg.minMatch = minMatch
	}

	if me := os.Getenv(EnvMatchEpsilon); me != "" {
		epsilon, err := strconv.ParseFloat(me, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMatchEpsilon, err)
		}
		if epsilon < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", EnvMatchEpsilon)
		}
		cfg.matchEpsilon = epsilon
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// ScratchDir returns the sandbox directory downloaded videos are written
// to. The detector refuses to read anything outside it.
func (c *EnvConfig) ScratchDir() string {
	if c.scratchDir != "" {
		return c.scratchDir
	}
	return filepath.Join(c.dataDir, "scratch")
}

// DBDriver returns the database driver name ("sqlite" or "postgres")
func (c *EnvConfig) DBDriver() string {
	if c.dbDriver != "" {
		return c.dbDriver
	}
	return "sqlite"
}

// DBDSN returns the database connection string. For sqlite the default
// is a file under the data directory.
func (c *EnvConfig) DBDSN() string {
	if c.dbDSN != "" {
		return c.dbDSN
	}
	return filepath.Join(c.dataDir, DBFilename)
}

// StorageEndpoint returns the base URL of the S3-compatible object store
// the fetcher downloads from.
func (c *EnvConfig) StorageEndpoint() string {
	return c.storageEndpoint
}

// SceneThreshold returns the frame-difference score above which the
// detector reports a scene cut.
func (c *EnvConfig) SceneThreshold() float64 {
	return c.sceneThreshold
}

// MinMatch returns the duplicate-match threshold override, or 0 when the
// index default applies.
func (c *EnvConfig) MinMatch() int {
	return c.minMatch
}

// MatchEpsilon returns the timestamp comparison tolerance in seconds.
// Zero selects exact comparison.
func (c *EnvConfig) MatchEpsilon() float64 {
	return c.matchEpsilon
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeoutSecs * time.Second
}

func (c *EnvConfig) DetectTimeout() time.Duration {
	return DefaultDetectTimeoutSecs * time.Second
}

func (c *EnvConfig) PublishInterval() time.Duration {
	return DefaultPublishIntervalMS * time.Millisecond
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
