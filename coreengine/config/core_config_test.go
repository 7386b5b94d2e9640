package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// DEFAULT CONFIG TESTS
// =============================================================================

func TestDefaultCoreConfig(t *testing.T) {
	// Test default values are set correctly.
	config := DefaultCoreConfig()

	// Correction Loop
	assert.Equal(t, 3, config.MaxRetryAttempts)

	// Metadata Gathering
	assert.Empty(t, config.RequiredMetadataFields)
	assert.Equal(t, 10, config.MaxMetadataQuestions)
	assert.Equal(t, 30, config.QuestionTTLMinutes)

	// Session Retention
	assert.Equal(t, 5, config.CleanupIntervalMinutes)
	assert.Equal(t, 24, config.TerminalRetentionHours)
	assert.Equal(t, 12, config.StaleRetentionHours)

	// Rate Limiting
	assert.True(t, config.RateLimitEnabled)
	assert.Equal(t, 60, config.RequestsPerMinute)
	assert.Equal(t, 600, config.RequestsPerHour)

	// Timeouts
	assert.Equal(t, 120, config.LLMTimeout)
	assert.Equal(t, 600, config.ConversionTimeout)
	assert.Equal(t, 120, config.ValidationTimeout)

	// Logging
	assert.Equal(t, "INFO", config.LogLevel)
}

func TestDefaultCoreConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultCoreConfig().Validate())
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidateRejectsZeroRetries(t *testing.T) {
	config := DefaultCoreConfig()
	config.MaxRetryAttempts = 0
	assert.Error(t, config.Validate())
}

func TestValidateRejectsNegativeQuestionBudget(t *testing.T) {
	config := DefaultCoreConfig()
	config.MaxMetadataQuestions = -1
	assert.Error(t, config.Validate())
}

func TestValidateRejectsZeroRateLimitWhenEnabled(t *testing.T) {
	config := DefaultCoreConfig()
	config.RequestsPerMinute = 0
	assert.Error(t, config.Validate())

	// Disabled rate limiting ignores the thresholds.
	config.RateLimitEnabled = false
	assert.NoError(t, config.Validate())
}

func TestValidateRejectsZeroTimeouts(t *testing.T) {
	config := DefaultCoreConfig()
	config.LLMTimeout = 0
	assert.Error(t, config.Validate())
}

// =============================================================================
// MAP ROUND-TRIP TESTS
// =============================================================================

func TestCoreConfigFromMap(t *testing.T) {
	config := CoreConfigFromMap(map[string]any{
		"max_retry_attempts":       5,
		"required_metadata_fields": []string{"species", "lab"},
		"max_metadata_questions":   4,
		"rate_limit_enabled":       false,
		"log_level":                "DEBUG",
	})

	assert.Equal(t, 5, config.MaxRetryAttempts)
	assert.Equal(t, []string{"species", "lab"}, config.RequiredMetadataFields)
	assert.Equal(t, 4, config.MaxMetadataQuestions)
	assert.False(t, config.RateLimitEnabled)
	assert.Equal(t, "DEBUG", config.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30, config.QuestionTTLMinutes)
}

func TestCoreConfigFromMapJSONNumbers(t *testing.T) {
	// JSON unmarshaling produces float64 and []any.
	config := CoreConfigFromMap(map[string]any{
		"max_retry_attempts":       float64(2),
		"required_metadata_fields": []any{"species"},
		"requests_per_minute":      float64(30),
	})

	assert.Equal(t, 2, config.MaxRetryAttempts)
	assert.Equal(t, []string{"species"}, config.RequiredMetadataFields)
	assert.Equal(t, 30, config.RequestsPerMinute)
}

func TestCoreConfigMapRoundTrip(t *testing.T) {
	original := DefaultCoreConfig()
	original.MaxRetryAttempts = 7
	original.LogLevel = "WARN"

	restored := CoreConfigFromMap(original.ToMap())
	assert.Equal(t, original, restored)
}

// =============================================================================
// GLOBAL CONFIG TESTS
// =============================================================================

func TestGlobalCoreConfig(t *testing.T) {
	defer ResetCoreConfig()

	// Unset global falls back to defaults.
	assert.Equal(t, DefaultCoreConfig(), GetCoreConfig())

	custom := DefaultCoreConfig()
	custom.MaxRetryAttempts = 9
	SetCoreConfig(custom)

	got := GetCoreConfig()
	require.NotNil(t, got)
	assert.Equal(t, 9, got.MaxRetryAttempts)
}
