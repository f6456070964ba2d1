package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"aletheia/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	LLM       LLMConfig
	Search    SearchConfig
	Cache     CacheConfig
	Engine    EngineConfig
	Artifacts ArtifactConfig
	Server    ServerConfig
	Profiling ProfilingConfig
	Log       LogConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// LLMConfig holds model client settings
type LLMConfig struct {
	Provider             string
	APIKey               string
	BaseURL              string
	Model                string
	MaxTokens            int
	Temperature          float64
	Timeout              time.Duration
	RetryBackoff         time.Duration
	PromptPricePer1K     float64
	CompletionPricePer1K float64
}

// SearchConfig holds web search provider settings
type SearchConfig struct {
	Provider    string
	TavilyKey   string
	TavilyURL   string
	BraveKey    string
	BraveURL    string
	CostPerCall float64
}

// CacheConfig selects the fetch cache backend
type CacheConfig struct {
	Backend       string // none, memory or redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// EngineConfig holds orchestration defaults
type EngineConfig struct {
	MaxIterations      int
	MaxParallel        int
	MaxConcurrentFetch int
	EvidenceCap        int
	FetchTimeout       time.Duration
	MaxWallTime        time.Duration
	WorkerSlots        int
	VectorStore        bool
}

// ArtifactConfig selects where plans, iterations and reports are kept
type ArtifactConfig struct {
	Store     string // memory, file or postgres
	Dir       string
	Retention time.Duration // file store only; zero keeps everything
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// envKeys maps config keys to the environment variables that set them
var envKeys = map[string]string{
	"database.url":            "DATABASE_URL",
	"database.max_open_conns": "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns": "DB_MAX_IDLE_CONNS",
	"llm.provider":            "LLM_PROVIDER",
	"llm.api_key":             "OPENAI_API_KEY",
	"llm.base_url":            "LLM_BASE_URL",
	"llm.model":               "LLM_MODEL",
	"llm.max_tokens":          "MAX_TOKENS",
	"llm.temperature":         "TEMPERATURE",
	"llm.timeout":             "LLM_TIMEOUT",
	"llm.retry_backoff":       "LLM_RETRY_BACKOFF",
	"llm.prompt_price":        "LLM_PROMPT_PRICE_PER_1K",
	"llm.completion_price":    "LLM_COMPLETION_PRICE_PER_1K",
	"search.provider":         "SEARCH_PROVIDER",
	"search.tavily_key":       "TAVILY_API_KEY",
	"search.tavily_url":       "TAVILY_URL",
	"search.brave_key":        "BRAVE_API_KEY",
	"search.brave_url":        "BRAVE_URL",
	"search.cost_per_call":    "SEARCH_COST_PER_CALL",
	"cache.backend":           "FETCH_CACHE",
	"cache.redis_addr":        "REDIS_ADDR",
	"cache.redis_password":    "REDIS_PASSWORD",
	"cache.redis_db":          "REDIS_DB",
	"cache.ttl":               "FETCH_CACHE_TTL",
	"engine.max_iterations":   "MAX_ITERATIONS",
	"engine.max_parallel":     "MAX_PARALLEL",
	"engine.max_fetches":      "MAX_CONCURRENT_FETCHES",
	"engine.evidence_cap":     "EVIDENCE_CAP",
	"engine.fetch_timeout":    "FETCH_TIMEOUT",
	"engine.max_wall_time":    "MAX_WALL_TIME",
	"engine.worker_slots":     "WORKER_SLOTS",
	"engine.vector_store":     "VECTOR_STORE_ENABLED",
	"artifacts.store":         "ARTIFACT_STORE",
	"artifacts.dir":           "ARTIFACT_DIR",
	"artifacts.retention":     "ARTIFACT_RETENTION",
	"server.port":             "PORT",
	"server.gin_mode":         "GIN_MODE",
	"profiling.port":          "PPROF_PORT",
	"profiling.enabled":       "PPROF_ENABLED",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"log.file":                "LOG_FILE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.retry_backoff", "500ms")
	v.SetDefault("llm.prompt_price", 0.00015)
	v.SetDefault("llm.completion_price", 0.0006)
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.tavily_url", "https://api.tavily.com/search")
	v.SetDefault("search.brave_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("search.cost_per_call", 0.001)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("engine.max_iterations", 3)
	v.SetDefault("engine.max_parallel", 4)
	v.SetDefault("engine.max_fetches", 8)
	v.SetDefault("engine.evidence_cap", 30)
	v.SetDefault("engine.fetch_timeout", "5s")
	v.SetDefault("engine.max_wall_time", "10m")
	v.SetDefault("engine.worker_slots", 4)
	v.SetDefault("engine.vector_store", false)
	v.SetDefault("artifacts.store", "file")
	v.SetDefault("artifacts.dir", "./research_data")
	v.SetDefault("artifacts.retention", "0s")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("profiling.port", "6060")
	v.SetDefault("profiling.enabled", true)
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from an optional config file and the environment, then validates it
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "failed to bind %s", env)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := &Config{
		Database:  loadDatabaseConfig(v),
		LLM:       loadLLMConfig(v),
		Search:    loadSearchConfig(v),
		Cache:     loadCacheConfig(v),
		Engine:    loadEngineConfig(v),
		Artifacts: ArtifactConfig{
			Store:     strings.ToLower(v.GetString("artifacts.store")),
			Dir:       v.GetString("artifacts.dir"),
			Retention: v.GetDuration("artifacts.retention"),
		},
		Server:    ServerConfig{Port: v.GetString("server.port"), GinMode: v.GetString("server.gin_mode")},
		Profiling: ProfilingConfig{Port: v.GetString("profiling.port"), Enabled: v.GetBool("profiling.enabled")},
		Log:       LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format"), File: v.GetString("log.file")},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// readConfigFile loads CONFIG_FILE, or config.yaml from the working directory if present
func readConfigFile(v *viper.Viper) error {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

func loadDatabaseConfig(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		URL:          v.GetString("database.url"),
		MaxOpenConns: v.GetInt("database.max_open_conns"),
		MaxIdleConns: v.GetInt("database.max_idle_conns"),
	}
}

func loadLLMConfig(v *viper.Viper) LLMConfig {
	return LLMConfig{
		Provider:             strings.ToLower(v.GetString("llm.provider")),
		APIKey:               v.GetString("llm.api_key"),
		BaseURL:              strings.TrimRight(v.GetString("llm.base_url"), "/"),
		Model:                v.GetString("llm.model"),
		MaxTokens:            v.GetInt("llm.max_tokens"),
		Temperature:          v.GetFloat64("llm.temperature"),
		Timeout:              v.GetDuration("llm.timeout"),
		RetryBackoff:         v.GetDuration("llm.retry_backoff"),
		PromptPricePer1K:     v.GetFloat64("llm.prompt_price"),
		CompletionPricePer1K: v.GetFloat64("llm.completion_price"),
	}
}

func loadSearchConfig(v *viper.Viper) SearchConfig {
	return SearchConfig{
		Provider:    strings.ToLower(v.GetString("search.provider")),
		TavilyKey:   v.GetString("search.tavily_key"),
		TavilyURL:   v.GetString("search.tavily_url"),
		BraveKey:    v.GetString("search.brave_key"),
		BraveURL:    v.GetString("search.brave_url"),
		CostPerCall: v.GetFloat64("search.cost_per_call"),
	}
}

func loadCacheConfig(v *viper.Viper) CacheConfig {
	return CacheConfig{
		Backend:       strings.ToLower(v.GetString("cache.backend")),
		RedisAddr:     v.GetString("cache.redis_addr"),
		RedisPassword: v.GetString("cache.redis_password"),
		RedisDB:       v.GetInt("cache.redis_db"),
		TTL:           v.GetDuration("cache.ttl"),
	}
}

func loadEngineConfig(v *viper.Viper) EngineConfig {
	return EngineConfig{
		MaxIterations:      v.GetInt("engine.max_iterations"),
		MaxParallel:        v.GetInt("engine.max_parallel"),
		MaxConcurrentFetch: v.GetInt("engine.max_fetches"),
		EvidenceCap:        v.GetInt("engine.evidence_cap"),
		FetchTimeout:       v.GetDuration("engine.fetch_timeout"),
		MaxWallTime:        v.GetDuration("engine.max_wall_time"),
		WorkerSlots:        v.GetInt("engine.worker_slots"),
		VectorStore:        v.GetBool("engine.vector_store"),
	}
}

func validateConfig(config *Config) error {
	switch config.Artifacts.Store {
	case "memory", "file":
	case "postgres":
		if config.Database.URL == "" {
			return errors.ConfigInvalid("DATABASE_URL is required when ARTIFACT_STORE=postgres")
		}
	default:
		return errors.ConfigInvalid("ARTIFACT_STORE must be memory, file or postgres")
	}
	if config.Artifacts.Store == "file" && config.Artifacts.Dir == "" {
		return errors.ConfigInvalid("ARTIFACT_DIR is required when ARTIFACT_STORE=file")
	}

	if config.LLM.Provider != "openai" {
		return errors.ConfigInvalid("LLM_PROVIDER must be openai")
	}
	if config.LLM.APIKey == "" {
		return errors.ConfigInvalid("OPENAI_API_KEY is required")
	}

	switch config.Search.Provider {
	case "tavily":
		if config.Search.TavilyKey == "" {
			return errors.ConfigInvalid("TAVILY_API_KEY is required when SEARCH_PROVIDER=tavily")
		}
	case "brave":
		if config.Search.BraveKey == "" {
			return errors.ConfigInvalid("BRAVE_API_KEY is required when SEARCH_PROVIDER=brave")
		}
	default:
		return errors.ConfigInvalid("SEARCH_PROVIDER must be tavily or brave")
	}

	switch config.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return errors.ConfigInvalid("FETCH_CACHE must be none, memory or redis")
	}

	e := config.Engine
	if e.MaxIterations < 1 {
		return errors.ConfigInvalid("MAX_ITERATIONS must be at least 1")
	}
	if e.MaxParallel < 1 || e.MaxConcurrentFetch < 1 || e.WorkerSlots < 1 {
		return errors.ConfigInvalid("MAX_PARALLEL, MAX_CONCURRENT_FETCHES and WORKER_SLOTS must be positive")
	}
	if e.EvidenceCap < 1 {
		return errors.ConfigInvalid("EVIDENCE_CAP must be positive")
	}
	if e.FetchTimeout <= 0 {
		return errors.ConfigInvalid("FETCH_TIMEOUT must be positive")
	}
	return nil
}
