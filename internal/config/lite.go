// Package config provides configuration management for the diagnosis server.
// This file contains the lightweight configuration used by the CLI and the
// MCP server, which run without external services.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// Records go to a SQLite file under DataDir.
type LiteConfig struct {
	DataDir string

	// Classifier settings
	ClassifierURL     string
	ClassifierTimeout time.Duration
	Relax             bool

	// Pipeline settings
	EnrichRecommendations bool

	// Logging
	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()

	return &LiteConfig{
		DataDir:           filepath.Join(homeDir, ".sympfindx"),
		ClassifierURL:     "http://127.0.0.1:7000",
		ClassifierTimeout: 30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("SYMPFINDX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("SYMPFINDX_CLASSIFIER_BASE_URL"); v != "" {
		cfg.ClassifierURL = v
	}
	if v := os.Getenv("SYMPFINDX_CLASSIFIER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ClassifierTimeout = d
		}
	}
	if v := os.Getenv("SYMPFINDX_CLASSIFIER_RELAX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Relax = b
		}
	}
	if v := os.Getenv("SYMPFINDX_PIPELINE_ENRICH_RECOMMENDATIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnrichRecommendations = b
		}
	}

	if v := os.Getenv("SYMPFINDX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYMPFINDX_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DiagnosisDBPath returns the path to the local diagnosis database.
func (c *LiteConfig) DiagnosisDBPath() string {
	return filepath.Join(c.DataDir, "diagnoses.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ClassifierConfig maps the lite settings onto the classifier client config.
func (c *LiteConfig) ClassifierConfig() domain.ClassifierConfig {
	return domain.ClassifierConfig{
		BaseURL: c.ClassifierURL,
		Timeout: c.ClassifierTimeout,
		Relax:   c.Relax,
	}
}

// LoggingConfig maps the lite settings onto the logging config.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}
