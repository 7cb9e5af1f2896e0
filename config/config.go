package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Retriever RetrieverConfig `mapstructure:"retriever"`
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
	Address        string `mapstructure:"address"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	RetentionDays  int    `mapstructure:"retention_days"`
	RetentionCron  string `mapstructure:"retention_cron"`
	StreamEnabled  bool   `mapstructure:"stream_enabled"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `mapstructure:"providers"`
	Routing   LLMRoutingConfig             `mapstructure:"routing"`
}

// LLMProviderConfig represents a single LLM provider configuration.
type LLMProviderConfig struct {
	Type        string        `mapstructure:"type"` // openai, ollama
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// LLMRoutingConfig names the model used for each kind of work.
type LLMRoutingConfig struct {
	Chat     string `mapstructure:"chat"`     // conversational turns
	Planning string `mapstructure:"planning"` // plan generation
	Utility  string `mapstructure:"utility"`  // prompt optimization and other short jobs
	Fallback string `mapstructure:"fallback"`
}

// ChatConfig tunes the turn controller.
type ChatConfig struct {
	Persona       string `mapstructure:"persona"`
	RAGEnabled    bool   `mapstructure:"rag_enabled"`
	MaxToolRounds int    `mapstructure:"max_tool_rounds"`
	HistoryLimit  int    `mapstructure:"history_limit"`
}

// SearchConfig tunes the web search aggregator.
type SearchConfig struct {
	DefaultEngine  string        `mapstructure:"default_engine"`
	GoogleCSEKey   string        `mapstructure:"google_cse_key"`
	GoogleCSECX    string        `mapstructure:"google_cse_cx"`
	MaxResults     int           `mapstructure:"max_results"`
	VisitLimit     int           `mapstructure:"visit_limit"`     // pages scraped per query
	CharLimit      int           `mapstructure:"char_limit"`      // per-page content budget
	SearchTimeout  time.Duration `mapstructure:"search_timeout"`  // SERP/API fetch
	ScrapeTimeout  time.Duration `mapstructure:"scrape_timeout"`  // per-page scrape
	EngineAttempts int           `mapstructure:"engine_attempts"` // tries per engine before fallback
	UserAgent      string        `mapstructure:"user_agent"`
}

// FetcherConfig tunes the single-URL fetcher tool.
type FetcherConfig struct {
	Mode     string        `mapstructure:"mode"` // http or render (headless chrome)
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// RetrieverConfig tunes the BM25 retriever over notes and history.
type RetrieverConfig struct {
	IndexPath string `mapstructure:"index_path"` // empty means in-memory
	TopK      int    `mapstructure:"top_k"`
	ChunkSize int    `mapstructure:"chunk_size"`
	Overlap   int    `mapstructure:"overlap"`
}

// StorageConfig contains database settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the primary store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the working-memory and lock store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file, falling back to env vars (SIDEKICK_*).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("server.retention_days", 90)
	viper.SetDefault("server.retention_cron", "0 3 * * *")
	viper.SetDefault("server.stream_enabled", true)
	viper.SetDefault("chat.max_tool_rounds", 8)
	viper.SetDefault("chat.history_limit", 40)
	viper.SetDefault("search.default_engine", "")
	viper.SetDefault("search.max_results", 8)
	viper.SetDefault("search.visit_limit", 3)
	viper.SetDefault("search.char_limit", 4000)
	viper.SetDefault("search.search_timeout", "15s")
	viper.SetDefault("search.scrape_timeout", "12s")
	viper.SetDefault("search.engine_attempts", 2)
	viper.SetDefault("search.user_agent", "Mozilla/5.0 (compatible; SidekickBot/1.0)")
	viper.SetDefault("fetcher.mode", "http")
	viper.SetDefault("fetcher.timeout", "15s")
	viper.SetDefault("fetcher.max_chars", 20000)
	viper.SetDefault("retriever.top_k", 5)
	viper.SetDefault("retriever.chunk_size", 1000)
	viper.SetDefault("retriever.overlap", 200)
	viper.SetDefault("storage.redis.ttl_hours", 48)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SIDEKICK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
