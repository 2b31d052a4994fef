package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Search    SearchConfig    `mapstructure:"search"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CrawlConfig bounds the crawl loop: depth, page budgets, concurrency and
// politeness delays between fetch sub-batches.
type CrawlConfig struct {
	MaxDepth           int           `mapstructure:"max_depth"`
	MaxPagesPerDepth   int           `mapstructure:"max_pages_per_depth"`
	MaxTotalPages      int           `mapstructure:"max_total_pages"`
	MaxConcurrentPages int           `mapstructure:"max_concurrent_pages"`
	PolitenessMin      time.Duration `mapstructure:"politeness_min"`
	PolitenessMax      time.Duration `mapstructure:"politeness_max"`
	SynthesisChunkSize int           `mapstructure:"synthesis_chunk_size"`
	HistoryLimit       int           `mapstructure:"history_limit"`
}

func (c CrawlConfig) Validate() error {
	if c.MaxDepth <= 0 {
		return fmt.Errorf("crawl.max_depth must be > 0")
	}
	if c.MaxConcurrentPages <= 0 {
		return fmt.Errorf("crawl.max_concurrent_pages must be > 0")
	}
	if c.PolitenessMax < c.PolitenessMin {
		return fmt.Errorf("crawl.politeness_max must be >= crawl.politeness_min")
	}
	if c.SynthesisChunkSize <= 0 {
		return fmt.Errorf("crawl.synthesis_chunk_size must be > 0")
	}
	return nil
}

// FetchConfig controls the headless fetcher and content extraction.
type FetchConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	MaxContentChars int               `mapstructure:"max_content_chars"`
	MaxLinksPerPage int               `mapstructure:"max_links_per_page"`
	RespectRobots   bool              `mapstructure:"respect_robots"`
	UserAgent       string            `mapstructure:"user_agent"`
	Policy          CrawlPolicyConfig `mapstructure:"policy"`
}

// SearchConfig configures the seed-search providers.
type SearchConfig struct {
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// OracleConfig configures the LLM backing the oracle adapter.
type OracleConfig struct {
	Provider string                 `mapstructure:"provider"`
	APIKey   string                 `mapstructure:"api_key"`
	BaseURL  string                 `mapstructure:"base_url"`
	Models   map[string]OracleModel `mapstructure:"models"`
	Routing  OracleRoutingConfig    `mapstructure:"routing"`
	Timeout  time.Duration          `mapstructure:"timeout"`
}

// OracleModel describes one model the oracle may route to.
type OracleModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// OracleRoutingConfig defines which model serves which operation class.
type OracleRoutingConfig struct {
	Scoring   string `mapstructure:"scoring"`   // relevance scoring, link ranking
	Decision  string `mapstructure:"decision"`  // continuation and completeness calls
	Synthesis string `mapstructure:"synthesis"` // answer synthesis
	Fallback  string `mapstructure:"fallback"`
}

// ModelFor resolves an operation class to a configured model, falling back
// to the routing fallback when the class is unset.
func (o OracleConfig) ModelFor(class string) string {
	var m string
	switch class {
	case "scoring":
		m = o.Routing.Scoring
	case "decision":
		m = o.Routing.Decision
	case "synthesis":
		m = o.Routing.Synthesis
	}
	if m == "" {
		m = o.Routing.Fallback
	}
	return m
}

func (o OracleConfig) Validate() error {
	if o.Provider == "" {
		return fmt.Errorf("oracle.provider is required")
	}
	if o.Routing.Fallback == "" {
		return fmt.Errorf("oracle.routing.fallback is required")
	}
	if len(o.Models) == 0 {
		return fmt.Errorf("oracle.models must configure at least one model")
	}
	return nil
}

// StorageConfig contains persistence backends. Postgres is preferred,
// then Redis, then in-memory.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string from the individual fields unless an
// explicit URL is configured.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains telemetry and cost tracking settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads configuration from file and environment variables.
// The config file is optional; defaults plus RESEARCHD_* env vars are
// enough to run.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("researchd")
		v.SetConfigType("json")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RESEARCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Fetch.Policy = cfg.Fetch.Policy.Normalize()
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "30s")

	v.SetDefault("server.address", ":10030")

	v.SetDefault("crawl.max_depth", 6)
	v.SetDefault("crawl.max_pages_per_depth", 10)
	v.SetDefault("crawl.max_total_pages", 40)
	v.SetDefault("crawl.max_concurrent_pages", 3)
	v.SetDefault("crawl.politeness_min", "1s")
	v.SetDefault("crawl.politeness_max", "3s")
	v.SetDefault("crawl.synthesis_chunk_size", 20)
	v.SetDefault("crawl.history_limit", 100)

	v.SetDefault("fetch.timeout", "25s")
	v.SetDefault("fetch.max_content_chars", 20000)
	v.SetDefault("fetch.max_links_per_page", 30)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.user_agent", "researchd/1.0")

	v.SetDefault("search.max_results", 8)
	v.SetDefault("search.timeout", "20s")

	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.timeout", "60s")
	v.SetDefault("oracle.routing.scoring", "gpt-5-mini")
	v.SetDefault("oracle.routing.decision", "gpt-5-mini")
	v.SetDefault("oracle.routing.synthesis", "gpt-5")
	v.SetDefault("oracle.routing.fallback", "gpt-5-mini")
	v.SetDefault("oracle.models.gpt-5.name", "gpt-5")
	v.SetDefault("oracle.models.gpt-5.api_name", "gpt-5")
	v.SetDefault("oracle.models.gpt-5.max_tokens", 8192)
	v.SetDefault("oracle.models.gpt-5.cost_per_1k_input", 0.00125)
	v.SetDefault("oracle.models.gpt-5.cost_per_1k_output", 0.01)
	v.SetDefault("oracle.models.gpt-5-mini.name", "gpt-5-mini")
	v.SetDefault("oracle.models.gpt-5-mini.api_name", "gpt-5-mini")
	v.SetDefault("oracle.models.gpt-5-mini.max_tokens", 4096)
	v.SetDefault("oracle.models.gpt-5-mini.cost_per_1k_input", 0.00025)
	v.SetDefault("oracle.models.gpt-5-mini.cost_per_1k_output", 0.002)

	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
}

func validateConfig(cfg *Config) error {
	if err := cfg.Crawl.Validate(); err != nil {
		return err
	}
	if err := cfg.Oracle.Validate(); err != nil {
		return err
	}
	if err := cfg.Fetch.Policy.Validate(); err != nil {
		return err
	}
	return nil
}
