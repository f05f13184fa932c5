package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/meigma/patchcdn"
	cdnhttp "github.com/meigma/patchcdn/http"
	"github.com/meigma/patchcdn/store"
	"github.com/meigma/patchcdn/store/bolt"
	"github.com/meigma/patchcdn/store/disk"
	s3store "github.com/meigma/patchcdn/store/s3"
)

const (
	defaultBaseURL = "https://patch.poecdn.com"
	defaultAddr    = "127.0.0.1:8080"
	defaultTimeout = 5 * time.Minute
	boltFileName   = "bundles.db"
)

// Config is the complete CLI configuration.
type Config struct {
	BaseURL string      `yaml:"base_url"`
	Patch   string      `yaml:"patch"`
	Cache   CacheConfig `yaml:"cache"`
	Fetch   FetchConfig `yaml:"fetch"`
	Log     LogConfig   `yaml:"log"`
	Serve   ServeConfig `yaml:"serve"`
}

// CacheConfig selects the memory TTL and the persistent store.
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Store    string        `yaml:"store"` // memory, disk, bolt or s3
	Dir      string        `yaml:"dir"`
	MaxBytes int64         `yaml:"max_bytes"`
	Bucket   string        `yaml:"bucket"`
	Prefix   string        `yaml:"prefix"`
	Region   string        `yaml:"region"`
	Endpoint string        `yaml:"endpoint"`

	// PathStyle forces path-style S3 addressing for non-local endpoints.
	PathStyle bool `yaml:"path_style"`
}

// FetchConfig holds CDN download settings.
type FetchConfig struct {
	GlobalSlot bool          `yaml:"global_slot"`
	Timeout    time.Duration `yaml:"timeout"`
	UserAgent  string        `yaml:"user_agent"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ServeConfig holds HTTP API settings.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// loadConfig reads path, if set, and fills defaults.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = patchcdn.DefaultTTL
	}
	if cfg.Cache.Store == "" {
		cfg.Cache.Store = "memory"
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = defaultTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = defaultAddr
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Patch == "" {
		return errors.New("patch version is required")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	switch c.Cache.Store {
	case "memory":
	case "disk", "bolt":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the %s store", c.Cache.Store)
		}
	case "s3":
		if c.Cache.Bucket == "" {
			return errors.New("cache.bucket is required for the s3 store")
		}
	default:
		return fmt.Errorf("unknown cache.store %q", c.Cache.Store)
	}
	if c.Cache.MaxBytes < 0 {
		return errors.New("cache.max_bytes must be >= 0")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func registerFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to YAML config file")
	fs.String("base-url", "", "CDN base URL")
	fs.StringP("patch", "p", "", "patch version")
	fs.Duration("ttl", 0, "memory cache TTL")
	fs.String("store", "", "persistent store: memory, disk, bolt or s3")
	fs.String("cache-dir", "", "directory for the disk and bolt stores")
	fs.Int64("max-bytes", 0, "disk store size limit (0 for none)")
	fs.String("bucket", "", "S3 bucket for the s3 store")
	fs.Bool("global-slot", false, "download one bundle at a time")
	fs.Duration("timeout", 0, "per-download timeout")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.String("addr", "", "listen address for serve")
	fs.String("ext", patchcdn.DataTableExt, "file extension selected by preload")
	fs.Int("concurrency", 4, "bundles fetched at once by preload")
	fs.BoolP("help", "h", false, "show help")
}

// applyFlags overlays flags that were set on the command line.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetDuration(name)
		}
	}

	str("base-url", &cfg.BaseURL)
	str("patch", &cfg.Patch)
	dur("ttl", &cfg.Cache.TTL)
	str("store", &cfg.Cache.Store)
	str("cache-dir", &cfg.Cache.Dir)
	str("bucket", &cfg.Cache.Bucket)
	dur("timeout", &cfg.Fetch.Timeout)
	str("log-level", &cfg.Log.Level)
	str("addr", &cfg.Serve.Addr)
	if err == nil && fs.Changed("max-bytes") {
		cfg.Cache.MaxBytes, err = fs.GetInt64("max-bytes")
	}
	if err == nil && fs.Changed("global-slot") {
		cfg.Fetch.GlobalSlot, err = fs.GetBool("global-slot")
	}
	return err
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func newLogger(cfg LogConfig) *slog.Logger {
	level, _ := parseLevel(cfg.Level)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore builds the configured persistent store. The returned close
// function releases it.
func openStore(cfg CacheConfig, logger *slog.Logger) (store.Store, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Store {
	case "disk":
		s, err := disk.New(cfg.Dir, disk.WithMaxBytes(cfg.MaxBytes), disk.WithLogger(logger))
		return s, nop, err
	case "bolt":
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, nil, err
		}
		s, err := bolt.Open(filepath.Join(cfg.Dir, boltFileName), bolt.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "s3":
		s, err := s3store.NewFromConfig(s3store.Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		}, s3store.WithLogger(logger))
		return s, nop, err
	default:
		return store.NewMemory(), nop, nil
	}
}

func loaderOptions(cfg *Config, s store.Store, logger *slog.Logger) []patchcdn.LoaderOption {
	fetchOpts := []cdnhttp.Option{cdnhttp.WithClient(&http.Client{Timeout: cfg.Fetch.Timeout})}
	if cfg.Fetch.UserAgent != "" {
		fetchOpts = append(fetchOpts, cdnhttp.WithUserAgent(cfg.Fetch.UserAgent))
	}
	opts := []patchcdn.LoaderOption{
		patchcdn.WithStore(s),
		patchcdn.WithFetcher(cdnhttp.NewFetcher(fetchOpts...)),
		patchcdn.WithTTL(cfg.Cache.TTL),
		patchcdn.WithLogger(logger),
	}
	if cfg.Fetch.GlobalSlot {
		opts = append(opts, patchcdn.WithGlobalFetchSlot())
	}
	return opts
}
