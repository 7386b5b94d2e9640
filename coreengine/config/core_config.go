// Package config provides core orchestration configuration - NO infrastructure URLs.
//
// This module contains ONLY configuration relevant to the conversion
// workflow:
//   - Retry and question limits
//   - Retention windows
//   - Rate limit thresholds
//
// Infrastructure configuration (LLM endpoints, storage backends, trace
// collectors) belongs to the process entry point, which parses flags and
// environment and injects the result here.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/datamorph-labs/convassist/coreengine/typeutil"
)

// CoreConfig holds core workflow configuration.
//
// This configuration is infrastructure-agnostic and can be used
// regardless of what backends (LLM, storage) are being used.
type CoreConfig struct {
	// Correction Loop
	MaxRetryAttempts int `json:"max_retry_attempts"`

	// Metadata Gathering
	RequiredMetadataFields []string `json:"required_metadata_fields"`
	MaxMetadataQuestions   int      `json:"max_metadata_questions"`
	QuestionTTLMinutes     int      `json:"question_ttl_minutes"`

	// Session Retention
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes"`
	TerminalRetentionHours int `json:"terminal_retention_hours"`
	StaleRetentionHours    int `json:"stale_retention_hours"`

	// Rate Limiting
	RateLimitEnabled  bool `json:"rate_limit_enabled"`
	RequestsPerMinute int  `json:"requests_per_minute"`
	RequestsPerHour   int  `json:"requests_per_hour"`

	// Timeouts (seconds)
	LLMTimeout        int `json:"llm_timeout"`
	ConversionTimeout int `json:"conversion_timeout"`
	ValidationTimeout int `json:"validation_timeout"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultCoreConfig returns a CoreConfig with default values.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		// Correction Loop
		MaxRetryAttempts: 3,

		// Metadata Gathering
		RequiredMetadataFields: []string{},
		MaxMetadataQuestions:   10,
		QuestionTTLMinutes:     30,

		// Session Retention
		CleanupIntervalMinutes: 5,
		TerminalRetentionHours: 24,
		StaleRetentionHours:    12,

		// Rate Limiting
		RateLimitEnabled:  true,
		RequestsPerMinute: 60,
		RequestsPerHour:   600,

		// Timeouts (seconds)
		LLMTimeout:        120,
		ConversionTimeout: 600,
		ValidationTimeout: 120,

		// Logging
		LogLevel: "INFO",
	}
}

// Validate checks the configuration for impossible values.
func (c *CoreConfig) Validate() error {
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("max_retry_attempts must be >= 1, got %d", c.MaxRetryAttempts)
	}
	if c.MaxMetadataQuestions < 0 {
		return fmt.Errorf("max_metadata_questions must be >= 0, got %d", c.MaxMetadataQuestions)
	}
	if c.QuestionTTLMinutes < 0 {
		return fmt.Errorf("question_ttl_minutes must be >= 0, got %d", c.QuestionTTLMinutes)
	}
	if c.RateLimitEnabled && c.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be >= 1 when rate limiting is enabled, got %d", c.RequestsPerMinute)
	}
	if c.LLMTimeout < 1 || c.ConversionTimeout < 1 || c.ValidationTimeout < 1 {
		return fmt.Errorf("timeouts must be >= 1 second")
	}
	return nil
}

// QuestionTTL returns the question TTL as a duration.
func (c *CoreConfig) QuestionTTL() time.Duration {
	return time.Duration(c.QuestionTTLMinutes) * time.Minute
}

// CleanupInterval returns the cleanup interval as a duration.
func (c *CoreConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// TerminalRetention returns the terminal session retention as a duration.
func (c *CoreConfig) TerminalRetention() time.Duration {
	return time.Duration(c.TerminalRetentionHours) * time.Hour
}

// StaleRetention returns the stale session retention as a duration.
func (c *CoreConfig) StaleRetention() time.Duration {
	return time.Duration(c.StaleRetentionHours) * time.Hour
}

// CoreConfigFromMap creates CoreConfig from a map.
// Unknown keys are ignored.
func CoreConfigFromMap(config map[string]any) *CoreConfig {
	c := DefaultCoreConfig()

	c.MaxRetryAttempts = typeutil.SafeIntDefault(config["max_retry_attempts"], c.MaxRetryAttempts)
	c.RequiredMetadataFields = typeutil.SafeStringSliceDefault(config["required_metadata_fields"], c.RequiredMetadataFields)
	c.MaxMetadataQuestions = typeutil.SafeIntDefault(config["max_metadata_questions"], c.MaxMetadataQuestions)
	c.QuestionTTLMinutes = typeutil.SafeIntDefault(config["question_ttl_minutes"], c.QuestionTTLMinutes)
	c.CleanupIntervalMinutes = typeutil.SafeIntDefault(config["cleanup_interval_minutes"], c.CleanupIntervalMinutes)
	c.TerminalRetentionHours = typeutil.SafeIntDefault(config["terminal_retention_hours"], c.TerminalRetentionHours)
	c.StaleRetentionHours = typeutil.SafeIntDefault(config["stale_retention_hours"], c.StaleRetentionHours)
	c.RateLimitEnabled = typeutil.SafeBoolDefault(config["rate_limit_enabled"], c.RateLimitEnabled)
	c.RequestsPerMinute = typeutil.SafeIntDefault(config["requests_per_minute"], c.RequestsPerMinute)
	c.RequestsPerHour = typeutil.SafeIntDefault(config["requests_per_hour"], c.RequestsPerHour)
	c.LLMTimeout = typeutil.SafeIntDefault(config["llm_timeout"], c.LLMTimeout)
	c.ConversionTimeout = typeutil.SafeIntDefault(config["conversion_timeout"], c.ConversionTimeout)
	c.ValidationTimeout = typeutil.SafeIntDefault(config["validation_timeout"], c.ValidationTimeout)
	c.LogLevel = typeutil.SafeStringDefault(config["log_level"], c.LogLevel)

	return c
}

// ToMap converts config to a map.
func (c *CoreConfig) ToMap() map[string]any {
	return map[string]any{
		"max_retry_attempts":       c.MaxRetryAttempts,
		"required_metadata_fields": c.RequiredMetadataFields,
		"max_metadata_questions":   c.MaxMetadataQuestions,
		"question_ttl_minutes":     c.QuestionTTLMinutes,
		"cleanup_interval_minutes": c.CleanupIntervalMinutes,
		"terminal_retention_hours": c.TerminalRetentionHours,
		"stale_retention_hours":    c.StaleRetentionHours,
		"rate_limit_enabled":       c.RateLimitEnabled,
		"requests_per_minute":      c.RequestsPerMinute,
		"requests_per_hour":        c.RequestsPerHour,
		"llm_timeout":              c.LLMTimeout,
		"conversion_timeout":       c.ConversionTimeout,
		"validation_timeout":       c.ValidationTimeout,
		"log_level":                c.LogLevel,
	}
}

// =============================================================================
// GLOBAL CONFIG (set by process bootstrap)
// =============================================================================

var (
	globalCoreConfig *CoreConfig
	configMu         sync.RWMutex
)

// GetCoreConfig gets the core configuration instance.
// Returns the injected config or defaults.
func GetCoreConfig() *CoreConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalCoreConfig == nil {
		return DefaultCoreConfig()
	}
	return globalCoreConfig
}

// SetCoreConfig sets the core configuration instance.
// Called by the process bootstrap after parsing flags and environment.
func SetCoreConfig(config *CoreConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = config
}

// ResetCoreConfig resets core config to nil (useful for testing).
func ResetCoreConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = nil
}
