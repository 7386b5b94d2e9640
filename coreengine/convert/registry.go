// Format registry - converter discovery and load accounting.
//
// Features:
//   - Converter registration per raw-data format
//   - Health tracking
//   - Concurrency accounting per format
//   - Extension-based format resolution

package convert

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Format Status
// =============================================================================

// FormatStatus represents the health status of a registered converter.
type FormatStatus string

const (
	// FormatStatusHealthy indicates the converter is accepting requests.
	FormatStatusHealthy FormatStatus = "healthy"
	// FormatStatusDegraded indicates the converter runs with reduced capacity.
	FormatStatusDegraded FormatStatus = "degraded"
	// FormatStatusUnavailable indicates the converter is not accepting requests.
	FormatStatusUnavailable FormatStatus = "unavailable"
)

// =============================================================================
// Format Descriptor
// =============================================================================

// FormatInfo describes a registered conversion format.
type FormatInfo struct {
	// Identity
	Format      string `json:"format"`
	Description string `json:"description,omitempty"`

	// Extensions this format claims, with leading dot, e.g. ".nwb".
	Extensions []string `json:"extensions,omitempty"`

	// Capacity
	MaxConcurrent int `json:"max_concurrent"`
	CurrentLoad   int `json:"current_load"`

	// Health
	Status          FormatStatus `json:"status"`
	LastHealthCheck time.Time    `json:"last_health_check"`
}

// NewFormatInfo creates a format descriptor with default capacity.
func NewFormatInfo(format string, extensions ...string) *FormatInfo {
	return &FormatInfo{
		Format:          format,
		Extensions:      extensions,
		MaxConcurrent:   4,
		Status:          FormatStatusHealthy,
		LastHealthCheck: time.Now().UTC(),
	}
}

// CanAccept checks if the format can accept another conversion.
func (f *FormatInfo) CanAccept() bool {
	return f.Status == FormatStatusHealthy && f.CurrentLoad < f.MaxConcurrent
}

// IsHealthy checks if the format is usable.
func (f *FormatInfo) IsHealthy() bool {
	return f.Status == FormatStatusHealthy || f.Status == FormatStatusDegraded
}

// Clone creates a copy of the format info.
func (f *FormatInfo) Clone() *FormatInfo {
	clone := *f
	if f.Extensions != nil {
		clone.Extensions = make([]string, len(f.Extensions))
		copy(clone.Extensions, f.Extensions)
	}
	return &clone
}

// =============================================================================
// Errors
// =============================================================================

// UnknownFormatError indicates no converter is registered for a format.
type UnknownFormatError struct {
	Format string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("no converter registered for format: %s", e.Format)
}

// FormatUnavailableError indicates the converter exists but cannot accept
// work, either unhealthy or at capacity.
type FormatUnavailableError struct {
	Format string
	Reason string
}

func (e *FormatUnavailableError) Error() string {
	return fmt.Sprintf("format %s unavailable: %s", e.Format, e.Reason)
}

// =============================================================================
// Format Registry
// =============================================================================

// FormatRegistry manages converter registration, discovery, and per-format
// load accounting. Thread-safe.
//
// Usage:
//
//	registry := NewFormatRegistry(nil)
//	registry.Register(NewFormatInfo("nwb", ".nwb"), nwbConverter)
//
//	conv, release, err := registry.Acquire("nwb")
//	if err != nil { ... }
//	defer release()
type FormatRegistry struct {
	logger Logger

	formats    map[string]*FormatInfo
	converters map[string]Converter

	mu sync.RWMutex
}

// NewFormatRegistry creates an empty registry.
func NewFormatRegistry(logger Logger) *FormatRegistry {
	return &FormatRegistry{
		logger:     logger,
		formats:    make(map[string]*FormatInfo),
		converters: make(map[string]Converter),
	}
}

// Register registers a converter for a format.
// Returns false if the format is already registered.
func (fr *FormatRegistry) Register(info *FormatInfo, converter Converter) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, exists := fr.formats[info.Format]; exists {
		if fr.logger != nil {
			fr.logger.Warn("format_already_registered", "format", info.Format)
		}
		return false
	}

	fr.formats[info.Format] = info
	fr.converters[info.Format] = converter

	if fr.logger != nil {
		fr.logger.Info("format_registered",
			"format", info.Format,
			"extensions", info.Extensions,
			"max_concurrent", info.MaxConcurrent,
		)
	}
	return true
}

// Unregister removes a format and its converter.
// Returns true if the format was registered.
func (fr *FormatRegistry) Unregister(format string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, exists := fr.formats[format]; !exists {
		return false
	}

	delete(fr.formats, format)
	delete(fr.converters, format)

	if fr.logger != nil {
		fr.logger.Info("format_unregistered", "format", format)
	}
	return true
}

// =============================================================================
// Discovery
// =============================================================================

// Get returns a copy of the format descriptor, or nil if unknown.
func (fr *FormatRegistry) Get(format string) *FormatInfo {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	if info, exists := fr.formats[format]; exists {
		return info.Clone()
	}
	return nil
}

// Has checks if a format is registered.
func (fr *FormatRegistry) Has(format string) bool {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	_, exists := fr.formats[format]
	return exists
}

// List lists registered formats, optionally only healthy ones.
func (fr *FormatRegistry) List(healthyOnly bool) []*FormatInfo {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	var result []*FormatInfo
	for _, info := range fr.formats {
		if healthyOnly && !info.IsHealthy() {
			continue
		}
		result = append(result, info.Clone())
	}
	return result
}

// Names returns all registered format names.
func (fr *FormatRegistry) Names() []string {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	names := make([]string, 0, len(fr.formats))
	for name := range fr.formats {
		names = append(names, name)
	}
	return names
}

// FormatForPath resolves a format from a file path's extension.
// Returns an empty string when no registered format claims the extension.
func (fr *FormatRegistry) FormatForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}

	fr.mu.RLock()
	defer fr.mu.RUnlock()

	for name, info := range fr.formats {
		for _, e := range info.Extensions {
			if strings.ToLower(e) == ext {
				return name
			}
		}
	}
	return ""
}

// =============================================================================
// Health Management
// =============================================================================

// UpdateHealth updates the health status of a format.
func (fr *FormatRegistry) UpdateHealth(format string, status FormatStatus) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	info, exists := fr.formats[format]
	if !exists {
		return false
	}

	info.Status = status
	info.LastHealthCheck = time.Now().UTC()

	if fr.logger != nil {
		fr.logger.Debug("format_health_updated",
			"format", format,
			"status", string(status),
		)
	}
	return true
}

// =============================================================================
// Load Management
// =============================================================================

// Acquire resolves the converter for a format and claims a load slot.
// The returned release function must be called exactly once when the
// conversion finishes.
func (fr *FormatRegistry) Acquire(format string) (Converter, func(), error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	info, exists := fr.formats[format]
	if !exists {
		return nil, nil, &UnknownFormatError{Format: format}
	}
	if !info.IsHealthy() {
		return nil, nil, &FormatUnavailableError{Format: format, Reason: "unhealthy"}
	}
	if !info.CanAccept() {
		return nil, nil, &FormatUnavailableError{Format: format, Reason: "at capacity"}
	}

	info.CurrentLoad++
	converter := fr.converters[format]

	var once sync.Once
	release := func() {
		once.Do(func() { fr.decrementLoad(format) })
	}
	return converter, release, nil
}

func (fr *FormatRegistry) decrementLoad(format string) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	info, exists := fr.formats[format]
	if exists && info.CurrentLoad > 0 {
		info.CurrentLoad--
	}
}

// GetLoad returns the current load for a format, or -1 if unknown.
func (fr *FormatRegistry) GetLoad(format string) int {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	info, exists := fr.formats[format]
	if !exists {
		return -1
	}
	return info.CurrentLoad
}

// =============================================================================
// Statistics
// =============================================================================

// GetStats returns statistics about the registry.
func (fr *FormatRegistry) GetStats() map[string]any {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	totalLoad := 0
	totalCapacity := 0
	healthyCount := 0

	for _, info := range fr.formats {
		totalLoad += info.CurrentLoad
		totalCapacity += info.MaxConcurrent
		if info.IsHealthy() {
			healthyCount++
		}
	}

	return map[string]any{
		"total_formats":   len(fr.formats),
		"healthy_formats": healthyCount,
		"total_load":      totalLoad,
		"total_capacity":  totalCapacity,
	}
}
