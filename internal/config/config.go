// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
)

// Graph drivers and edge link keys accepted in configuration.
const (
	GraphDriverNeo4j  = "neo4j"
	GraphDriverMemory = "memory"

	LinkByName = string(crawler.LinkByName)
	LinkByRC   = string(crawler.LinkByRC)
)

// Worker pool bounds.
const (
	MinWorkers = crawler.MinWorkers
	MaxWorkers = crawler.MaxWorkers
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Site    SiteConfig    `mapstructure:"site"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Graph   GraphConfig   `mapstructure:"graph"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP endpoints. Port 0 disables them.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SiteConfig describes the registry endpoints.
type SiteConfig struct {
	SearchURL      string `mapstructure:"search_url"`
	VATURLTemplate string `mapstructure:"vat_url_template"`
	LoginURL       string `mapstructure:"login_url"`
	Country        string `mapstructure:"country"`
}

// CrawlConfig governs the identifier range and pacing.
type CrawlConfig struct {
	RangeStart        int64   `mapstructure:"range_start"`
	RangeStop         int64   `mapstructure:"range_stop"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Workers           int     `mapstructure:"workers"`
}

// HTTPConfig configures the registry HTTP client.
type HTTPConfig struct {
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
}

// AuthConfig holds the login form submitted before crawling.
type AuthConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Credentials map[string]string `mapstructure:"credentials"`
}

// GraphConfig selects and configures the graph store.
type GraphConfig struct {
	Driver        string `mapstructure:"driver"`
	URI           string `mapstructure:"uri"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	LinkBy        string `mapstructure:"link_by"`
	WriteAttempts int    `mapstructure:"write_attempts"`
}

// DBConfig controls the optional Postgres outcome ledger.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 0)
	v.SetDefault("site.search_url", "https://www.e-krediidiinfo.ee/otsing")
	v.SetDefault("site.vat_url_template", "https://www.e-krediidiinfo.ee/isik/%d/vat")
	v.SetDefault("site.login_url", "https://www.e-krediidiinfo.ee/auth/regular/login")
	v.SetDefault("site.country", "et")
	v.SetDefault("crawl.range_start", 14209942)
	v.SetDefault("crawl.range_stop", 14211043)
	v.SetDefault("crawl.requests_per_second", 1.5)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("http.timeout_seconds", 3)
	v.SetDefault("http.user_agent", "registry-graph-crawler/0.1")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("graph.driver", GraphDriverNeo4j)
	v.SetDefault("graph.uri", "neo4j://localhost:7687")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.database", "")
	v.SetDefault("graph.link_by", LinkByName)
	v.SetDefault("graph.write_attempts", 3)
	v.SetDefault("db.table", "crawl_outcomes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Every violation
// wraps crawler.ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.validateCountry(); err != nil {
		return err
	}
	if err := c.Range().Validate(); err != nil {
		return fmt.Errorf("crawl.range_start/range_stop: %w", err)
	}
	if !crawler.ValidRate(c.Crawl.RequestsPerSecond) {
		return invalid("crawl.requests_per_second must be a finite number > 0")
	}
	if c.Crawl.Workers < MinWorkers || c.Crawl.Workers > MaxWorkers {
		return invalid(fmt.Sprintf("crawl.workers must be in [%d, %d]", MinWorkers, MaxWorkers))
	}
	if c.Server.Port < 0 {
		return invalid("server.port must be >= 0")
	}
	if c.Site.SearchURL == "" {
		return invalid("site.search_url is required")
	}
	if !strings.Contains(c.Site.VATURLTemplate, "%d") {
		return invalid("site.vat_url_template must contain %d")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return invalid("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled {
		if c.Site.LoginURL == "" {
			return invalid("site.login_url must be set when auth is enabled")
		}
		if len(c.Auth.Credentials) == 0 {
			return invalid("auth.credentials must be set when auth is enabled")
		}
	}
	switch c.Graph.Driver {
	case GraphDriverMemory:
	case GraphDriverNeo4j:
		if c.Graph.URI == "" {
			return invalid("graph.uri is required for the neo4j driver")
		}
	default:
		return invalid(fmt.Sprintf("graph.driver %q is not supported", c.Graph.Driver))
	}
	if c.Graph.LinkBy != LinkByName && c.Graph.LinkBy != LinkByRC {
		return invalid(fmt.Sprintf("graph.link_by must be %q or %q", LinkByName, LinkByRC))
	}
	if c.Graph.WriteAttempts < 1 {
		return invalid("graph.write_attempts must be >= 1")
	}
	return nil
}

func (c Config) validateCountry() error {
	switch c.Site.Country {
	case "et":
		return nil
	case "fi":
		return invalid("site.country: search of Finnish companies is not implemented")
	case "lt":
		return invalid("site.country: search of Lithuanian companies is not implemented")
	default:
		return invalid(fmt.Sprintf("site.country: illegal country code %q", c.Site.Country))
	}
}

// Range returns the configured identifier range.
func (c Config) Range() crawler.Range {
	return crawler.Range{
		Start: crawler.Identifier(c.Crawl.RangeStart),
		Stop:  crawler.Identifier(c.Crawl.RangeStop),
	}
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds * float64(time.Second))
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", crawler.ErrInvalidConfig, msg)
}
