// Package config loads phi-extract settings from a YAML file.
//
// Every field has a default, so a config file only needs the keys it
// changes. String values may reference environment variables as ${NAME}
// or ${NAME:-default}.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/phiinfo/phi-extract/internal/asset"
	"github.com/phiinfo/phi-extract/internal/manifest"
	"github.com/phiinfo/phi-extract/internal/pack"
	"github.com/phiinfo/phi-extract/internal/remote"
	"github.com/phiinfo/phi-extract/internal/source"
)

// EnvVar names the environment variable consulted for a config path when
// none is given on the command line
const EnvVar = "PHI_EXTRACT_CONFIG"

// Config is the complete configuration
type Config struct {
	// CatalogEntry is the archive entry holding catalog.json
	CatalogEntry string `yaml:"catalog_entry"`

	// BundlePrefix is the archive directory holding bundles
	BundlePrefix string `yaml:"bundle_prefix"`

	// ChapterRoot is the logical directory of chapter covers
	ChapterRoot string `yaml:"chapter_root"`

	// Rewrites replaces logical paths before lookup. Entries are added to
	// the built-in rewrites; mapping a path to itself disables one.
	Rewrites map[string]string `yaml:"rewrites"`

	// Info is the default domain info document for pack
	Info string `yaml:"info"`

	Workers     int    `yaml:"workers"`
	Compression string `yaml:"compression"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	// MaxPayload caps a single extracted payload in bytes
	MaxPayload int64 `yaml:"max_payload"`

	// ReadAhead is the HTTP range window for remote archives in bytes
	ReadAhead int64 `yaml:"read_ahead"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		CatalogEntry: source.DefaultCatalogEntry,
		BundlePrefix: source.DefaultBundlePrefix,
		ChapterRoot:  manifest.DefaultChapterRoot,
		Rewrites:     manifest.DefaultRewrites(),
		Workers:      0,
		Compression:  string(pack.CompressionNone),
		LogLevel:     "info",
		LogFormat:    "json",
		MaxPayload:   asset.DefaultMaxPayload,
		ReadAhead:    remote.DefaultReadAhead,
	}
}

// Load reads the file named by EnvVar, or returns Default when it is unset
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, expands variables and validates
// the result
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	builtin := cfg.Rewrites
	cfg.Rewrites = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for from, to := range cfg.Rewrites {
		builtin[from] = to
	}
	cfg.Rewrites = builtin

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.CatalogEntry = expandVars(c.CatalogEntry)
	c.BundlePrefix = expandVars(c.BundlePrefix)
	c.ChapterRoot = expandVars(c.ChapterRoot)
	c.Info = expandVars(c.Info)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default} with environment values
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if c.CatalogEntry == "" {
		errs = append(errs, errors.New("catalog_entry is required"))
	}
	if c.BundlePrefix != "" && !strings.HasSuffix(c.BundlePrefix, "/") {
		errs = append(errs, fmt.Errorf("bundle_prefix %q must end with /", c.BundlePrefix))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if _, err := pack.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	if c.MaxPayload < 0 || c.ReadAhead < 0 {
		errs = append(errs, errors.New("max_payload and read_ahead must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLevel parses a log level name
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}
