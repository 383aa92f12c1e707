package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	StorageBackendPebble   = "pebble"
	StorageBackendPostgres = "postgres"
)

// Audio backends
const (
	AudioBackendHeadless = "headless"
	AudioBackendEbiten   = "ebiten"
)

// Config holds all application configuration
type Config struct {
	// Storage configuration
	StorageBackend string
	PebblePath     string
	DatabaseURL    string
	DatabaseName   string

	// Audio configuration
	AudioBackend string
	AssetsDir    string

	// Tuning file with race and audio constants
	TuningFile string
	Tuning     Tuning

	// NATS configuration (event export is disabled when empty)
	NATSServers       string
	NATSSubjectPrefix string

	// OpenTelemetry configuration
	OTelEnabled              bool
	OTelExporterType         string // "console" or "none"
	OTelServiceName          string
	OTelExportIntervalMillis int

	// Logging
	LogLevel string

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	// A missing .env file is fine, the environment may already be set
	_ = godotenv.Load()

	config := &Config{
		// Storage
		StorageBackend: os.Getenv("STORAGE_BACKEND"),
		PebblePath:     os.Getenv("PEBBLE_PATH"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseName:   os.Getenv("DATABASE_NAME"),

		// Audio
		AudioBackend: os.Getenv("AUDIO_BACKEND"),
		AssetsDir:    os.Getenv("ASSETS_DIR"),

		TuningFile: os.Getenv("TUNING_FILE"),

		// NATS
		NATSServers:       os.Getenv("NATS_SERVERS"),
		NATSSubjectPrefix: os.Getenv("NATS_SUBJECT_PREFIX"),

		// OpenTelemetry
		OTelEnabled:              os.Getenv("OTEL_ENABLED") == "true",
		OTelExporterType:         os.Getenv("OTEL_EXPORTER_TYPE"),
		OTelServiceName:          os.Getenv("OTEL_SERVICE_NAME"),
		OTelExportIntervalMillis: 60000,

		LogLevel: os.Getenv("LOG_LEVEL"),

		// Environment
		Environment: os.Getenv("ENVIRONMENT"),
	}

	if interval := os.Getenv("OTEL_EXPORT_INTERVAL_MS"); interval != "" {
		if parsed, err := strconv.Atoi(interval); err == nil && parsed > 0 {
			config.OTelExportIntervalMillis = parsed
		}
	}

	config.applyDefaults()

	tuning := DefaultTuning()
	if config.TuningFile != "" {
		var err error
		tuning, err = LoadTuning(config.TuningFile)
		if err != nil {
			return nil, err
		}
	}
	config.Tuning = tuning

	if config.Environment != "test" {
		if err := config.validate(); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.StorageBackend == "" {
		c.StorageBackend = StorageBackendPebble
	}
	c.StorageBackend = strings.ToLower(c.StorageBackend)
	if c.PebblePath == "" {
		c.PebblePath = "./data/derby"
	}
	if c.AudioBackend == "" {
		c.AudioBackend = AudioBackendHeadless
	}
	if c.AssetsDir == "" {
		c.AssetsDir = "./assets"
	}
	if c.NATSSubjectPrefix == "" {
		c.NATSSubjectPrefix = "derby"
	}
	if c.OTelExporterType == "" {
		c.OTelExporterType = "console"
	}
	if c.OTelServiceName == "" {
		c.OTelServiceName = "derby"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case StorageBackendPebble:
	case StorageBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.StorageBackend)
	}

	switch c.AudioBackend {
	case AudioBackendHeadless, AudioBackendEbiten:
	default:
		return fmt.Errorf("unknown audio backend: %s", c.AudioBackend)
	}
	return nil
}

// NewTestConfig returns a configuration suitable for tests
func NewTestConfig() *Config {
	c := &Config{
		Environment:              "test",
		OTelExportIntervalMillis: 60000,
		Tuning:                   DefaultTuning(),
	}
	c.applyDefaults()
	c.OTelExporterType = "none"
	return c
}
