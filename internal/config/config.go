package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stockdesk.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	Watchlist Watchlist `yaml:"watchlist"`
	Gateway   Gateway   `yaml:"gateway"`
	Chat      Chat      `yaml:"chat"`
}

// Storage selects the durable key-value backend and the data directory used
// for parquet archives.
type Storage struct {
	// Backend is one of "sqlite", "redis", "file" or "memory".
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	FilePath   string `yaml:"file_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	RedisPass  string `yaml:"redis_password"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	MirrorName      string `yaml:"mirror_watchlist"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Configured reports whether API credentials are present.
func (a Alpaca) Configured() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Watchlist controls the synchronizer.
type Watchlist struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	Defaults        []Default     `yaml:"defaults"`
}

// Default is one bootstrap watchlist symbol.
type Default struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

// Gateway selects the market data provider.
type Gateway struct {
	// Provider is one of "alpaca", "http" or "none".
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
}

// Chat configures the assistant.
type Chat struct {
	// Responder is "gemini" or "scripted".
	Responder string `yaml:"responder"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	// ResearchAPIKey enables web research through Exa.
	ResearchAPIKey string `yaml:"research_api_key"`
	ResearchURL    string `yaml:"research_url"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults and then applies environment variable
// overrides. A missing file is not an error: defaults and environment
// variables are used instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/stockdesk.db"
	}
	if cfg.Storage.FilePath == "" {
		cfg.Storage.FilePath = "data/stockdesk.json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Alpaca.MirrorName == "" {
		cfg.Alpaca.MirrorName = "stockdesk"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Watchlist.RefreshInterval == 0 {
		cfg.Watchlist.RefreshInterval = 60 * time.Second
	}
	if cfg.Watchlist.FetchTimeout == 0 {
		cfg.Watchlist.FetchTimeout = 8 * time.Second
	}
	if cfg.Watchlist.StaleAfter == 0 {
		cfg.Watchlist.StaleAfter = 15 * time.Minute
	}
	if len(cfg.Watchlist.Defaults) == 0 {
		cfg.Watchlist.Defaults = []Default{
			{Symbol: "AAPL", Name: "Apple Inc."},
			{Symbol: "GOOGL", Name: "Alphabet Inc."},
			{Symbol: "MSFT", Name: "Microsoft Corporation"},
		}
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = "gemini-2.5-flash"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATEWAY_PROVIDER"); v != "" {
		cfg.Gateway.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("EXA_API_KEY"); v != "" {
		cfg.Chat.ResearchAPIKey = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
