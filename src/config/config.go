// Package config loads the dashboard configuration: upstream endpoints,
// cache policy, and the tracked branch/builder matrix.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"releasedash/src/model"
)

// Defaults mirror the dashboard's operating assumptions: pages are
// regenerated by a cron-style refresh every few minutes, and a typical
// build takes longer than the status TTL.
const (
	DefaultStatusTTL        = 6 * time.Minute
	DefaultPageTTL          = 6 * time.Minute
	DefaultAPITimeout       = 30 * time.Second
	DefaultBuildsPerBuilder = 200
	DefaultMinConsecutive   = 2
	DefaultListenAddr       = ":8080"
)

// Config is the root configuration, loaded from YAML with environment
// overrides applied on top.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Results  ResultsConfig  `yaml:"results"`
	Cache    CacheConfig    `yaml:"cache"`
	Tracking TrackingConfig `yaml:"tracking"`
	Server   ServerConfig   `yaml:"server"`

	// MinConsecutiveFailures is the streak length that marks a builder
	// broken rather than flaky.
	MinConsecutiveFailures int `yaml:"min_consecutive_failures"`
	// BuildsPerBuilder bounds how many recent builds are fetched per pair.
	BuildsPerBuilder int `yaml:"builds_per_builder"`
}

// APIConfig points at the remote status API.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`

	timeout time.Duration
}

// ResultsConfig points at the locally-mirrored artifact tree.
type ResultsConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig selects and tunes the cache layer.
type CacheConfig struct {
	// Backend is one of "memory", "leveldb", "postgres".
	Backend   string `yaml:"backend"`
	Dir       string `yaml:"dir"`
	DSN       string `yaml:"dsn"`
	StatusTTL string `yaml:"status_ttl"`
	PageTTL   string `yaml:"page_ttl"`

	statusTTL time.Duration
	pageTTL   time.Duration
}

// TrackingConfig is the reference data: which branches and builders the
// dashboard follows.
type TrackingConfig struct {
	Branches []model.Branch   `yaml:"branches"`
	Builders []TrackedBuilder `yaml:"builders"`
}

// TrackedBuilder is one tracked builder. Branches limits it to a subset
// of the tracked branches; empty means all of them.
type TrackedBuilder struct {
	Name     string         `yaml:"name"`
	Platform string         `yaml:"platform"`
	Tier     string         `yaml:"tier"`
	Branches []model.Branch `yaml:"branches"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// envOverrides are deploy-varying settings that take precedence over the
// YAML file. Prefixed RELEASEDASH_, e.g. RELEASEDASH_POSTGRES_DSN.
type envOverrides struct {
	APIBaseURL  string `envconfig:"API_BASE_URL"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	CacheDir    string `envconfig:"CACHE_DIR"`
	ResultsDir  string `envconfig:"RESULTS_DIR"`
}

// Load reads, overrides, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("RELEASEDASH", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if env.APIBaseURL != "" {
		cfg.API.BaseURL = env.APIBaseURL
	}
	if env.PostgresDSN != "" {
		cfg.Cache.DSN = env.PostgresDSN
	}
	if env.CacheDir != "" {
		cfg.Cache.Dir = env.CacheDir
	}
	if env.ResultsDir != "" {
		cfg.Results.Dir = env.ResultsDir
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finish applies defaults, compiles duration strings, and validates.
func (c *Config) finish() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Results.Dir == "" {
		return fmt.Errorf("results.dir is required")
	}

	var err error
	if c.API.timeout, err = durationOr(c.API.Timeout, DefaultAPITimeout); err != nil {
		return fmt.Errorf("api.timeout: %w", err)
	}
	if c.Cache.statusTTL, err = durationOr(c.Cache.StatusTTL, DefaultStatusTTL); err != nil {
		return fmt.Errorf("cache.status_ttl: %w", err)
	}
	if c.Cache.pageTTL, err = durationOr(c.Cache.PageTTL, DefaultPageTTL); err != nil {
		return fmt.Errorf("cache.page_ttl: %w", err)
	}

	switch c.Cache.Backend {
	case "":
		c.Cache.Backend = "leveldb"
	case "memory", "leveldb", "postgres":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "leveldb" && c.Cache.Dir == "" {
		c.Cache.Dir = "./data/cache"
	}
	if c.Cache.Backend == "postgres" && c.Cache.DSN == "" {
		return fmt.Errorf("cache.dsn is required for the postgres backend")
	}

	if c.MinConsecutiveFailures <= 0 {
		c.MinConsecutiveFailures = DefaultMinConsecutive
	}
	if c.BuildsPerBuilder <= 0 {
		c.BuildsPerBuilder = DefaultBuildsPerBuilder
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}

	for i, b := range c.Tracking.Builders {
		if b.Name == "" {
			return fmt.Errorf("tracking.builders[%d].name is required", i)
		}
	}
	return nil
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// APITimeout returns the compiled API request timeout.
func (c *Config) APITimeout() time.Duration { return c.API.timeout }

// StatusTTL returns the compiled status-entry TTL.
func (c *Config) StatusTTL() time.Duration { return c.Cache.statusTTL }

// PageTTL returns the compiled whole-page render TTL.
func (c *Config) PageTTL() time.Duration { return c.Cache.pageTTL }

// Pairs expands the tracking section into the (branch, builder) reference
// set the aggregator walks. A builder with no branch list is tracked on
// every branch. An empty tracking section yields nil; the commands fall
// back to discovering pairs from upstream builder tags.
func (c *Config) Pairs() []model.Pair {
	var pairs []model.Pair
	for _, tb := range c.Tracking.Builders {
		builder := model.Builder{Name: tb.Name, Platform: tb.Platform, Tier: tb.Tier}
		branches := tb.Branches
		if len(branches) == 0 {
			branches = c.Tracking.Branches
		}
		for _, branch := range branches {
			pairs = append(pairs, model.Pair{Branch: branch, Builder: builder})
		}
	}
	return pairs
}
