// Package config defines crawl configuration options.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ExtractionConfig holds the selector set used to pull fields and outbound
// links out of a rendered listing page. Selectors are site-family specific
// and therefore configuration, not code.
type ExtractionConfig struct {
	// TitleSelector locates the listing title element.
	TitleSelector string `mapstructure:"title_selector"`

	// SummarySelector locates the listing description element.
	SummarySelector string `mapstructure:"summary_selector"`

	// LinkSelector locates anchors whose hrefs are fed back into the frontier.
	LinkSelector string `mapstructure:"link_selector"`

	// WaitSelector is the element the renderer waits for before the page is
	// considered loaded.
	WaitSelector string `mapstructure:"wait_selector"`
}

// Config holds all configuration for a crawl run.
type Config struct {
	// Seed URLs to start crawling from.
	Seeds []string `mapstructure:"seeds"`

	// Maximum discovery depth (0 = unlimited).
	MaxDepth int `mapstructure:"max_depth"`

	// Maximum retries per address before it is marked failed.
	MaxRetries int `mapstructure:"max_retries"`

	// Number of concurrent crawl workers.
	ConcurrentRequests int `mapstructure:"concurrent_requests"`

	// Per-render timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Base delay for exponential retry backoff.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// Per-domain politeness delay bounds; the actual delay between two
	// requests to one domain is sampled uniformly from [Min, Max].
	RateLimitMin time.Duration `mapstructure:"rate_limit_min"`
	RateLimitMax time.Duration `mapstructure:"rate_limit_max"`

	// Global cap on request initiation across all domains (0 = unlimited).
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Respect robots.txt. When false no policy document is ever fetched.
	RespectRobots bool `mapstructure:"respect_robots"`

	// User-Agent strings; one is chosen per fetch. Must be non-empty.
	UserAgents []string `mapstructure:"user_agents"`

	// Page suffix a crawlable document path must end with.
	PageSuffix string `mapstructure:"page_suffix"`

	// Canonical locale segment enforced before the page suffix.
	Locale string `mapstructure:"locale"`

	// Chromium executable path (empty = discovered).
	ChromiumPath string `mapstructure:"chromium_path"`

	// Extraction selector set.
	Extraction ExtractionConfig `mapstructure:"extraction"`

	// SQLite database path for crawl results.
	DatabasePath string `mapstructure:"database_path"`

	// Directory for frontier snapshots written on cancellation.
	CheckpointDir string `mapstructure:"checkpoint_dir"`

	// Log settings.
	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		MaxDepth:           0,
		MaxRetries:         3,
		ConcurrentRequests: 5,
		RequestTimeout:     30 * time.Second,
		RetryBackoff:       time.Second,
		RateLimitMin:       time.Second,
		RateLimitMax:       3 * time.Second,
		RequestsPerSecond:  0,
		RespectRobots:      true,
		UserAgents: []string{
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		},
		PageSuffix: ".html",
		Locale:     "en-gb",
		Extraction: ExtractionConfig{
			TitleSelector:   ".hp__hotel-title h2",
			SummarySelector: ".hotel_description_review_display",
			LinkSelector:    ".bui-carousel__inner a[href]",
			WaitSelector:    ".bui-carousel__inner",
		},
		DatabasePath:  "hotelspider.db",
		CheckpointDir: "checkpoints",
		LogLevel:      "info",
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// unset keys. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration errors. Any error here is fatal: the run
// must not start with a partially valid configuration.
func (c *Config) Validate() error {
	if c.ConcurrentRequests < 1 {
		return fmt.Errorf("concurrent_requests must be at least 1, got %d", c.ConcurrentRequests)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be positive, got %s", c.RetryBackoff)
	}
	if c.RateLimitMin < 0 {
		return fmt.Errorf("rate_limit_min must not be negative, got %s", c.RateLimitMin)
	}
	if c.RateLimitMax < c.RateLimitMin {
		return fmt.Errorf("rate_limit_max (%s) must not be below rate_limit_min (%s)",
			c.RateLimitMax, c.RateLimitMin)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative, got %v", c.RequestsPerSecond)
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user_agents must contain at least one entry")
	}
	for i, ua := range c.UserAgents {
		if strings.TrimSpace(ua) == "" {
			return fmt.Errorf("user_agents[%d] is empty", i)
		}
	}
	if c.PageSuffix == "" || !strings.HasPrefix(c.PageSuffix, ".") {
		return fmt.Errorf("page_suffix must start with a dot, got %q", c.PageSuffix)
	}
	return nil
}
