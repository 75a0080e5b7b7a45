package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
)

// fileConfig is the on-disk configuration. Durations use time.ParseDuration
// syntax, e.g. "30s".
type fileConfig struct {
	BaseURL            string            `yaml:"base_url" toml:"base_url"`
	TTL                string            `yaml:"ttl" toml:"ttl"`
	BatchDelay         string            `yaml:"batch_delay" toml:"batch_delay"`
	FetchTimeout       string            `yaml:"fetch_timeout" toml:"fetch_timeout"`
	UnwrapField        *string           `yaml:"unwrap_field" toml:"unwrap_field"`
	StrictInvalidation bool              `yaml:"strict_invalidation" toml:"strict_invalidation"`
	Rate               float64           `yaml:"rate" toml:"rate"`
	Headers            map[string]string `yaml:"headers" toml:"headers"`
	Store              storeConfig       `yaml:"store" toml:"store"`
}

type storeConfig struct {
	Kind     string `yaml:"kind" toml:"kind"`
	DSN      string `yaml:"dsn" toml:"dsn"`
	Table    string `yaml:"table" toml:"table"`
	Region   string `yaml:"region" toml:"region"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
}

// loadConfig reads path as YAML or TOML depending on its extension.
func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *fileConfig) validate() error {
	for name, v := range map[string]string{
		"ttl":           c.TTL,
		"batch_delay":   c.BatchDelay,
		"fetch_timeout": c.FetchTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Rate < 0 {
		return fmt.Errorf("rate must not be negative, got %v", c.Rate)
	}

	switch c.Store.Kind {
	case "", storeMemory, storeSQLite, storePostgres, storeDynamoDB:
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	return nil
}

// merge applies the flags the user set explicitly on top of the file.
func (c *fileConfig) merge(cmd *cobra.Command, opts *rootOptions) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		c.BaseURL = opts.baseURL
	}
	if flags.Changed("store") || c.Store.Kind == "" {
		c.Store.Kind = opts.store
	}
	if flags.Changed("dsn") {
		c.Store.DSN = opts.dsn
	}
	if flags.Changed("table") {
		c.Store.Table = opts.table
	}
	if flags.Changed("ttl") {
		c.TTL = opts.ttl.String()
	}
	if flags.Changed("rate") {
		c.Rate = opts.rate
	}
	if flags.Changed("strict") {
		c.StrictInvalidation = opts.strict
	}
}

func (c *fileConfig) fetcherConfig() gofetchcache.Config {
	cfg := gofetchcache.DefaultConfig()
	// validated by loadConfig or set from typed flags
	if d, err := time.ParseDuration(c.TTL); err == nil {
		cfg.TTL = d
	}
	if d, err := time.ParseDuration(c.BatchDelay); err == nil {
		cfg.BatchDelay = d
	}
	if d, err := time.ParseDuration(c.FetchTimeout); err == nil {
		cfg.FetchTimeout = d
	}
	if c.UnwrapField != nil {
		cfg.UnwrapField = *c.UnwrapField
	}
	cfg.StrictInvalidation = c.StrictInvalidation

	return cfg
}

// resolveConfig loads the file named by --config, if any, and merges flags.
func resolveConfig(cmd *cobra.Command, opts *rootOptions) (*fileConfig, error) {
	cfg := &fileConfig{}
	if opts.config != "" {
		var err error
		if cfg, err = loadConfig(opts.config); err != nil {
			return nil, err
		}
	}

	cfg.merge(cmd, opts)

	return cfg, cfg.validate()
}
