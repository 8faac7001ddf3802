// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/moneyrudh/healio/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete healio configuration.
type Config struct {
	// General settings
	Version string `toml:"version" json:"version"`

	// Backend connection configuration
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Consultation workflow configuration
	Consult ConsultConfig `toml:"consult" json:"consult"`

	// Download configuration for generated artifacts
	Download DownloadConfig `toml:"download" json:"download"`

	// Local archive configuration
	Archive ArchiveConfig `toml:"archive" json:"archive"`

	// Terminal output configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// BackendConfig contains documentation backend connection settings.
type BackendConfig struct {
	// BaseURL is the URL of the documentation backend
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs is the per-request timeout in seconds for non-streaming calls
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the number of attempts for idempotent requests
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RateLimit is the client-side request rate in requests per second (0 = unlimited)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the burst size for the client-side limiter
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
	// Debug enables request/response logging (method, path, status - never bodies)
	Debug bool `toml:"debug" json:"debug"`
}

// Timeout returns the backend request timeout as a time.Duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}

// ConsultConfig contains consultation workflow settings.
type ConsultConfig struct {
	// DefaultProviderID pre-selects a provider in the consult REPL when set
	DefaultProviderID string `toml:"default_provider_id" json:"default_provider_id"`
	// PatientPageSize is the page size for patient listings
	PatientPageSize int `toml:"patient_page_size" json:"patient_page_size"`
	// AutoArchive archives a consultation locally when it completes
	AutoArchive bool `toml:"auto_archive" json:"auto_archive"`
}

// DownloadConfig contains settings for generated artifacts (PDF summaries).
type DownloadConfig struct {
	// Dir is the directory where downloaded artifacts are saved
	Dir string `toml:"dir" json:"dir"`
}

// ArchiveConfig contains local consultation archive settings.
//
// The archive holds completed consultations (transcript plus summary) in a
// local SQLite database so they can be reviewed offline. Because archived
// rows contain patient data, the archive supports at-rest sealing of
// message text.
type ArchiveConfig struct {
	// Enabled controls whether completed consultations are archived locally
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database path (empty = ~/.healio/archive.db)
	Path string `toml:"path" json:"path"`
	// MaxArchived caps the number of archived consultations (0 = unlimited);
	// oldest entries are pruned past the cap
	MaxArchived int `toml:"max_archived" json:"max_archived"`
	// Seal encrypts archived message text and summary data at rest
	Seal bool `toml:"seal" json:"seal"`
	// KeyFile is the sealing key file path (empty = ~/.healio/archive.key)
	KeyFile string `toml:"key_file" json:"key_file"`
}

// UIConfig contains terminal output settings.
type UIConfig struct {
	// Color controls colored output: "auto", "always", "never"
	Color string `toml:"color" json:"color"`
	// Compact uses a more compact transcript layout
	Compact bool `toml:"compact" json:"compact"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Backend: BackendConfig{
			BaseURL:     "http://localhost:5001",
			TimeoutSecs: 30,
			MaxRetries:  3,
			RateLimit:   10,
			RateBurst:   5,
			Debug:       false,
		},

		Consult: ConsultConfig{
			DefaultProviderID: "",
			PatientPageSize:   100,
			AutoArchive:       true,
		},

		Download: DownloadConfig{
			Dir: defaultDownloadDir(),
		},

		Archive: ArchiveConfig{
			Enabled:     true,
			Path:        defaultArchivePath(),
			MaxArchived: 200,
			Seal:        false,
			KeyFile:     defaultKeyFilePath(),
		},

		UI: UIConfig{
			Color:   "auto",
			Compact: false,
		},
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

func defaultArchivePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "archive.db"
	}
	return filepath.Join(dir, "archive.db")
}

func defaultKeyFilePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "archive.key"
	}
	return filepath.Join(dir, "archive.key")
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the healio configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".healio"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
// The directory also holds the archive database and sealing key, so it is
// created owner-only.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err // File doesn't exist or not accessible
	}

	mode := info.Mode().Perm()

	// If permissions are too permissive (anything other than 0600), fix them
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file.
// Missing files fall back to defaults. Environment overrides are applied
// last, followed by normalization and validation.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				loadErr = fmt.Errorf("failed to load config: %w", err)
			} else {
				cfg.ApplyEnvOverrides()
				cfg.Normalize()
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("invalid config: %w", err)
				}
				return cfg, nil
			}
		}
	}

	// Apply environment overrides to defaults
	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Log warning but don't fail - permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full
// validation applied.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	// General
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Backend
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.TimeoutSecs == 0 {
		cfg.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = defaults.Backend.MaxRetries
	}
	if cfg.Backend.RateLimit == 0 {
		cfg.Backend.RateLimit = defaults.Backend.RateLimit
	}
	if cfg.Backend.RateBurst == 0 {
		cfg.Backend.RateBurst = defaults.Backend.RateBurst
	}

	// Consult
	if cfg.Consult.PatientPageSize == 0 {
		cfg.Consult.PatientPageSize = defaults.Consult.PatientPageSize
	}

	// Download
	if cfg.Download.Dir == "" {
		cfg.Download.Dir = defaults.Download.Dir
	}

	// Archive
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = defaults.Archive.Path
	}
	if cfg.Archive.KeyFile == "" {
		cfg.Archive.KeyFile = defaults.Archive.KeyFile
	}

	// UI
	if cfg.UI.Color == "" {
		cfg.UI.Color = defaults.UI.Color
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Config files are written with 0600 permissions.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# healio configuration file")
	fmt.Fprintln(&buf, "# Generated by healio - edit with care")
	fmt.Fprintln(&buf, "#")
	fmt.Fprintln(&buf, "# Documentation: https://github.com/moneyrudh/healio")
	fmt.Fprintln(&buf, "")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Backend Settings Validation
	// ==========================================================================

	if c.Backend.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "backend.base_url",
			Message: "must not be empty",
		})
	} else {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme),
			})
		} else if u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: "missing host",
			})
		}
	}

	if c.Backend.TimeoutSecs < 1 || c.Backend.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "backend.timeout_secs",
			Message: fmt.Sprintf("must be 1-600 seconds, got %d", c.Backend.TimeoutSecs),
		})
	}

	if c.Backend.MaxRetries < 1 || c.Backend.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "backend.max_retries",
			Message: fmt.Sprintf("must be 1-10, got %d", c.Backend.MaxRetries),
		})
	}

	if c.Backend.RateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.rate_limit",
			Message: "must be non-negative",
		})
	}
	if c.Backend.RateLimit > 0 && c.Backend.RateBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "backend.rate_burst",
			Message: fmt.Sprintf("must be at least 1 when rate_limit is set, got %d", c.Backend.RateBurst),
		})
	}

	// ==========================================================================
	// Consult Settings Validation
	// ==========================================================================

	if c.Consult.PatientPageSize < 1 || c.Consult.PatientPageSize > 500 {
		errs = append(errs, ValidationError{
			Field:   "consult.patient_page_size",
			Message: fmt.Sprintf("must be 1-500, got %d", c.Consult.PatientPageSize),
		})
	}

	// ==========================================================================
	// Archive Settings Validation
	// ==========================================================================

	if c.Archive.MaxArchived < 0 {
		errs = append(errs, ValidationError{
			Field:   "archive.max_archived",
			Message: "must be non-negative",
		})
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "archive.path",
			Message: "must not be empty when archive is enabled",
		})
	}
	if c.Archive.Seal && c.Archive.KeyFile == "" {
		errs = append(errs, ValidationError{
			Field:   "archive.key_file",
			Message: "must not be empty when sealing is enabled",
		})
	}

	// ==========================================================================
	// UI Settings Validation
	// ==========================================================================

	validColors := map[string]bool{"auto": true, "always": true, "never": true}
	if !validColors[strings.ToLower(c.UI.Color)] {
		errs = append(errs, ValidationError{
			Field:   "ui.color",
			Message: fmt.Sprintf("invalid value '%s', must be one of: auto, always, never", c.UI.Color),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Normalize canonicalizes user-supplied values after load.
func (c *Config) Normalize() {
	c.Backend.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.UI.Color = strings.ToLower(strings.TrimSpace(c.UI.Color))
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - HEALIO_BACKEND_URL: overrides backend.base_url
//   - HEALIO_TIMEOUT_SECS: overrides backend.timeout_secs
//   - HEALIO_DEBUG: set to "1" or "true" to enable debug logging
//   - HEALIO_PROVIDER_ID: overrides consult.default_provider_id
//   - HEALIO_DOWNLOAD_DIR: overrides download.dir
//   - HEALIO_ARCHIVE_PATH: overrides archive.path
//   - HEALIO_ARCHIVE_SEAL: set to "1" or "true" to enable archive sealing
//   - HEALIO_ARCHIVE_KEY_FILE: overrides archive.key_file
//   - HEALIO_COLOR: overrides ui.color
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("HEALIO_BACKEND_URL"); u != "" {
		c.Backend.BaseURL = u
	}

	if secs := os.Getenv("HEALIO_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			c.Backend.TimeoutSecs = n
		}
	}

	if debug := os.Getenv("HEALIO_DEBUG"); debug != "" {
		c.Backend.Debug = debug == "1" || strings.ToLower(debug) == "true"
	}

	if provider := os.Getenv("HEALIO_PROVIDER_ID"); provider != "" {
		c.Consult.DefaultProviderID = provider
	}

	if dir := os.Getenv("HEALIO_DOWNLOAD_DIR"); dir != "" {
		c.Download.Dir = dir
	}

	if path := os.Getenv("HEALIO_ARCHIVE_PATH"); path != "" {
		c.Archive.Path = path
	}

	if seal := os.Getenv("HEALIO_ARCHIVE_SEAL"); seal != "" {
		c.Archive.Seal = seal == "1" || strings.ToLower(seal) == "true"
	}

	if keyFile := os.Getenv("HEALIO_ARCHIVE_KEY_FILE"); keyFile != "" {
		c.Archive.KeyFile = keyFile
	}

	if color := os.Getenv("HEALIO_COLOR"); color != "" {
		c.UI.Color = color
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "backend.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		// If this is the last part, return the value
		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		// Otherwise, navigate into the struct
		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation (e.g., "backend.base_url").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		// If this is the last part, set the value
		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		// Otherwise, navigate into the struct
		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	// Handle string input with type conversion
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.ToLower(strVal) == "true" || strings.ToLower(strVal) == "yes"
			field.SetBool(boolVal)
			return nil
		}
	}

	// Direct assignment for matching types
	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	// Type conversion for compatible types
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"backend.base_url",
		"backend.timeout_secs",
		"backend.max_retries",
		"backend.rate_limit",
		"backend.rate_burst",
		"backend.debug",
		"consult.default_provider_id",
		"consult.patient_page_size",
		"consult.auto_archive",
		"download.dir",
		"archive.enabled",
		"archive.path",
		"archive.max_archived",
		"archive.seal",
		"archive.key_file",
		"ui.color",
		"ui.compact",
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
// The config carries no credentials; archived patient data lives in the
// archive database, not here.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			// Log but don't fail - use defaults
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
