// Package config provides configuration management for the Shortcast server.
// Configuration is loaded from environment variables with sensible defaults,
// plus an optional YAML tuning file for pipeline parameters.
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
	DefaultPort     = 8590
	DefaultLogLevel = "info"
	DefaultDataDir  = ".shortcast"

	// Environment variable names
	EnvPort       = "SHORTCAST_PORT"
	EnvLogLevel   = "SHORTCAST_LOG_LEVEL"
	EnvDataDir    = "SHORTCAST_DATA_DIR"
	EnvTuningFile = "SHORTCAST_TUNING_FILE"

	// Collaborator endpoints
	EnvTTSBaseURL     = "SHORTCAST_TTS_BASE_URL"
	EnvTTSAPIKey      = "SHORTCAST_TTS_API_KEY"
	EnvSTTBaseURL     = "SHORTCAST_STT_BASE_URL"
	EnvSTTAPIKey      = "SHORTCAST_STT_API_KEY"
	EnvLLMBaseURL     = "SHORTCAST_LLM_BASE_URL"
	EnvLLMAPIKey      = "SHORTCAST_LLM_API_KEY"
	EnvStorageBaseURL = "SHORTCAST_STORAGE_BASE_URL"
	EnvStorageToken   = "SHORTCAST_STORAGE_TOKEN"
	EnvRenderBaseURL  = "SHORTCAST_RENDER_BASE_URL"
	EnvRenderTimeout  = "SHORTCAST_RENDER_TIMEOUT_S"
	EnvBackgroundsDir = "SHORTCAST_BACKGROUNDS_DIR"

	// Database filename
	DBFilename = "shortcast.db"

	// Render defaults
	DefaultRenderTimeout = 600 // seconds
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	TempDir() string
	ClipCacheDir() string
	BackgroundsDir() string
	TTSBaseURL() string
	TTSAPIKey() string
	STTBaseURL() string
	STTAPIKey() string
	LLMBaseURL() string
	LLMAPIKey() string
	StorageBaseURL() string
	StorageToken() string
	RenderBaseURL() string
	RenderTimeout() time.Duration
	Tuning() Tuning
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ttsBaseURL     string
	ttsAPIKey      string
	sttBaseURL     string
	sttAPIKey      string
	llmBaseURL     string
	llmAPIKey      string
	storageBaseURL string
	storageToken   string
	renderBaseURL  string
	renderTimeout  time.Duration
	backgroundsDir string

	tuning Tuning
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		renderTimeout: DefaultRenderTimeout * time.Second,
		tuning:        DefaultTuning(),
	}

	// Override port from environment
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

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.ttsBaseURL = os.Getenv(EnvTTSBaseURL)
	cfg.ttsAPIKey = os.Getenv(EnvTTSAPIKey)
	cfg.sttBaseURL = os.Getenv(EnvSTTBaseURL)
	cfg.sttAPIKey = os.Getenv(EnvSTTAPIKey)
	cfg.llmBaseURL = os.Getenv(EnvLLMBaseURL)
	cfg.llmAPIKey = os.Getenv(EnvLLMAPIKey)
	cfg.storageBaseURL = os.Getenv(EnvStorageBaseURL)
	cfg.storageToken = os.Getenv(EnvStorageToken)
	cfg.renderBaseURL = os.Getenv(EnvRenderBaseURL)
	cfg.backgroundsDir = os.Getenv(EnvBackgroundsDir)

	if rt := os.Getenv(EnvRenderTimeout); rt != "" {
		secs, err := strconv.Atoi(rt)
		if err != nil || secs < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer of seconds", EnvRenderTimeout)
		}
		cfg.renderTimeout = time.Duration(secs) * time.Second
	}

	if tf := os.Getenv(EnvTuningFile); tf != "" {
		tuning, err := LoadTuning(tf)
		if err != nil {
			return nil, fmt.Errorf("failed to load tuning file: %w", err)
		}
		cfg.tuning = tuning
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

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// TempDir returns the directory for per-job intermediate artifacts
func (c *EnvConfig) TempDir() string {
	return filepath.Join(c.dataDir, "tmp")
}

// ClipCacheDir returns the badger directory for probed clip durations
func (c *EnvConfig) ClipCacheDir() string {
	return filepath.Join(c.dataDir, "clipcache")
}

// BackgroundsDir returns the root directory holding background clip pools
func (c *EnvConfig) BackgroundsDir() string {
	if c.backgroundsDir != "" {
		return c.backgroundsDir
	}
	return filepath.Join(c.dataDir, "backgrounds")
}

func (c *EnvConfig) TTSBaseURL() string     { return c.ttsBaseURL }
func (c *EnvConfig) TTSAPIKey() string      { return c.ttsAPIKey }
func (c *EnvConfig) STTBaseURL() string     { return c.sttBaseURL }
func (c *EnvConfig) STTAPIKey() string      { return c.sttAPIKey }
func (c *EnvConfig) LLMBaseURL() string     { return c.llmBaseURL }
func (c *EnvConfig) LLMAPIKey() string      { return c.llmAPIKey }
func (c *EnvConfig) StorageBaseURL() string { return c.storageBaseURL }
func (c *EnvConfig) StorageToken() string   { return c.storageToken }
func (c *EnvConfig) RenderBaseURL() string  { return c.renderBaseURL }

// RenderTimeout returns the upper bound on a single render call
func (c *EnvConfig) RenderTimeout() time.Duration {
	return c.renderTimeout
}

// Tuning returns the pipeline tuning parameters
func (c *EnvConfig) Tuning() Tuning {
	return c.tuning
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
