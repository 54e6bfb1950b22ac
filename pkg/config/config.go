// Package config holds the immutable export configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultAPIBaseURL           = "https://api.openstreetmap.org/api/0.6"
	DefaultUserAgent            = "osm2vcf/0.1.0"
	DefaultProductID            = "OSM2VCF"
	VCardVersion                = "3.0"
	DefaultRequestTimeout       = 30 * time.Second
	DefaultRateLimit            = 2.0
	DefaultRateBurst            = 4
	DefaultMaxConcurrentFetches = 8
	DefaultMaxResolveRounds     = 3
	DefaultCacheSize            = 1000
)

// Config is passed by value into the exporter and the API client; nothing
// mutates it after Load/Default returns.
type Config struct {
	APIBaseURL           string        `yaml:"api_base_url"`
	UserAgent            string        `yaml:"user_agent"`
	VCardVersion         string        `yaml:"vcard_version"`
	ProductID            string        `yaml:"product_id"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	RateLimit            float64       `yaml:"rate_limit"`
	RateBurst            int           `yaml:"rate_burst"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	MaxResolveRounds     int           `yaml:"max_resolve_rounds"`

	// CacheTTL keeps API responses for reuse across exports; zero disables
	// the cache
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		APIBaseURL:           DefaultAPIBaseURL,
		UserAgent:            DefaultUserAgent,
		VCardVersion:         VCardVersion,
		ProductID:            DefaultProductID,
		RequestTimeout:       DefaultRequestTimeout,
		RateLimit:            DefaultRateLimit,
		RateBurst:            DefaultRateBurst,
		MaxConcurrentFetches: DefaultMaxConcurrentFetches,
		MaxResolveRounds:     DefaultMaxResolveRounds,
		CacheSize:            DefaultCacheSize,
	}
}

// Load reads a YAML file on top of Default. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	return LoadWithBase(path, Default())
}

// LoadWithBase is Load with base supplying the values for absent keys
func LoadWithBase(path string, base Config) (Config, error) {
	cfg := base

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every field holds a usable value
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url must not be empty")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be an http(s) URL, got %q", c.APIBaseURL)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent must not be empty")
	}
	if c.VCardVersion != VCardVersion {
		return fmt.Errorf("vcard_version %q is not supported (only %s)", c.VCardVersion, VCardVersion)
	}
	if c.ProductID == "" {
		return fmt.Errorf("product_id must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate_limit and rate_burst must be positive")
	}
	if c.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("max_concurrent_fetches must be positive")
	}
	if c.MaxResolveRounds <= 0 {
		return fmt.Errorf("max_resolve_rounds must be positive")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	if c.CacheTTL > 0 && c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive when cache_ttl is set")
	}
	return nil
}
