package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// VaultRoot is the target document store. Published artifacts land in
	// VaultRoot/InboxSubdir. Defaults to <base>/vault for tests and first runs.
	VaultRoot string `json:"vault_root,omitempty"`

	// InboxSubdir is the fixed subdirectory of the vault that receives
	// published artifacts.
	InboxSubdir string `json:"inbox_subdir,omitempty"`

	// FingerprintPrefixBytes bounds how much of an external artifact is read
	// when computing its fingerprint. Prefix fingerprints are an early dedup
	// signal, not a full integrity proof.
	FingerprintPrefixBytes int64 `json:"fingerprint_prefix_bytes,omitempty"`

	// MaxPending is the backpressure threshold: when this many captures are
	// non-terminal, new ingestion is rejected with a retriable error.
	MaxPending int `json:"max_pending,omitempty"`

	// EnrichTimeoutSecs is how long a capture may sit in enriching before
	// recovery reverts it to staged.
	EnrichTimeoutSecs int64 `json:"enrich_timeout_secs,omitempty"`

	// RetentionDays is the age floor for the retention sweep. Only terminal,
	// successfully exported captures older than this are removed.
	RetentionDays int `json:"retention_days,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// LogLevel is the zerolog level name (trace..panic). Default: info.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is "console" or "json". Default: console.
	LogFormat string `json:"log_format,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		InboxSubdir:            "inbox",
		FingerprintPrefixBytes: 1 << 20,
		MaxPending:             500,
		EnrichTimeoutSecs:      900,
		RetentionDays:          30,
		LogLevel:               "info",
		LogFormat:              "console",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.inlet.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if merged.VaultRoot == "" {
		merged.VaultRoot = filepath.Join(baseDir, "vault")
	}
	return merged, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for non-zero scalars; arrays are merged
// and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.VaultRoot = overlay.VaultRoot
	if result.VaultRoot == "" {
		result.VaultRoot = base.VaultRoot
	}

	result.InboxSubdir = overlay.InboxSubdir
	if result.InboxSubdir == "" {
		result.InboxSubdir = base.InboxSubdir
	}

	result.FingerprintPrefixBytes = overlay.FingerprintPrefixBytes
	if result.FingerprintPrefixBytes == 0 {
		result.FingerprintPrefixBytes = base.FingerprintPrefixBytes
	}

	result.MaxPending = overlay.MaxPending
	if result.MaxPending == 0 {
		result.MaxPending = base.MaxPending
	}

	result.EnrichTimeoutSecs = overlay.EnrichTimeoutSecs
	if result.EnrichTimeoutSecs == 0 {
		result.EnrichTimeoutSecs = base.EnrichTimeoutSecs
	}

	result.RetentionDays = overlay.RetentionDays
	if result.RetentionDays == 0 {
		result.RetentionDays = base.RetentionDays
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.LogLevel = overlay.LogLevel
	if result.LogLevel == "" {
		result.LogLevel = base.LogLevel
	}

	result.LogFormat = overlay.LogFormat
	if result.LogFormat == "" {
		result.LogFormat = base.LogFormat
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
