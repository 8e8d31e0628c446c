package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Search       SearchConfig       `yaml:"search" mapstructure:"search"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Tavily       TavilyConfig       `yaml:"tavily" mapstructure:"tavily"`
	Research     ResearchConfig     `yaml:"research" mapstructure:"research"`
	Rentcast     RentcastConfig     `yaml:"rentcast" mapstructure:"rentcast"`
	Google       GoogleConfig       `yaml:"google" mapstructure:"google"`
	OCR          OCRConfig          `yaml:"ocr" mapstructure:"ocr"`
	Storage      StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SearchConfig selects and tunes the web search backend.
type SearchConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // "tavily" or "jina"
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// TavilyConfig holds Tavily search settings.
type TavilyConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ResearchConfig tunes the research agent.
type ResearchConfig struct {
	QuickRounds  int    `yaml:"quick_rounds" mapstructure:"quick_rounds"`
	DeepRounds   int    `yaml:"deep_rounds" mapstructure:"deep_rounds"`
	MaxResults   int    `yaml:"max_results" mapstructure:"max_results"`
	SnippetChars int    `yaml:"snippet_chars" mapstructure:"snippet_chars"`
	CatalogPath  string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// RentcastConfig holds Rentcast property API settings.
type RentcastConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RadiusMiles float64 `yaml:"radius_miles" mapstructure:"radius_miles"`
	Limit       int     `yaml:"limit" mapstructure:"limit"`
}

// GoogleConfig holds the Google geocoding key. Geocoding is skipped when empty.
type GoogleConfig struct {
	GeocodeKey string `yaml:"geocode_key" mapstructure:"geocode_key"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// StorageConfig configures where uploaded documents are written.
type StorageConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"` // "local" or "gcs"
	UploadDir string `yaml:"upload_dir" mapstructure:"upload_dir"`
	GCSBucket string `yaml:"gcs_bucket" mapstructure:"gcs_bucket"`
}

// OrchestratorConfig bounds the document-completion poll.
type OrchestratorConfig struct {
	PollMaxAttempts int `yaml:"poll_max_attempts" mapstructure:"poll_max_attempts"`
	PollInitialMS   int `yaml:"poll_initial_ms" mapstructure:"poll_initial_ms"`
	PollMaxMS       int `yaml:"poll_max_ms" mapstructure:"poll_max_ms"`
}

// RedisConfig enables the cross-replica pipeline lease when URL is set.
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	LeaseSecs int    `yaml:"lease_secs" mapstructure:"lease_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "dealdesk.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.timeout_secs", 30)
	v.SetDefault("search.rate_per_sec", 5.0)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("research.quick_rounds", 3)
	v.SetDefault("research.deep_rounds", 10)
	v.SetDefault("research.max_results", 5)
	v.SetDefault("research.snippet_chars", 500)
	v.SetDefault("rentcast.base_url", "https://api.rentcast.io/v1")
	v.SetDefault("rentcast.radius_miles", 2.0)
	v.SetDefault("rentcast.limit", 10)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "pixtral-large-latest")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("orchestrator.poll_max_attempts", 60)
	v.SetDefault("orchestrator.poll_initial_ms", 2000)
	v.SetDefault("orchestrator.poll_max_ms", 15000)
	v.SetDefault("redis.lease_secs", 900)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys without a default must still be known to viper for env overrides.
	for _, key := range []string{
		"store.database_url",
		"anthropic.key",
		"jina.key",
		"tavily.key",
		"research.catalog_path",
		"rentcast.key",
		"google.geocode_key",
		"ocr.mistral_api_key",
		"storage.gcs_bucket",
		"redis.url",
	} {
		v.SetDefault(key, "")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys required by the given mode are present.
// Modes: "serve", "pipeline", "store".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			missing = append(missing, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		missing = append(missing, "store.driver must be sqlite or postgres")
	}

	if mode == "serve" || mode == "pipeline" {
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		switch c.Search.Provider {
		case "tavily":
			if c.Tavily.Key == "" {
				missing = append(missing, "tavily.key is required for the tavily search provider")
			}
		case "jina":
			if c.Jina.Key == "" {
				missing = append(missing, "jina.key is required for the jina search provider")
			}
		default:
			missing = append(missing, "search.provider must be tavily or jina")
		}
	}

	if c.Storage.Driver == "gcs" && c.Storage.GCSBucket == "" {
		missing = append(missing, "storage.gcs_bucket is required for the gcs storage driver")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		missing = append(missing, "server.port must be between 1 and 65535")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
