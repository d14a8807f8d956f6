package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	AIProviderOpenAI = "openai"
	AIProviderGemini = "gemini"

	WarehouseBigQuery = "bigquery"
	WarehouseDuckDB   = "duckdb"

	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	VectorStore   VectorStoreConfig
	AI            AIConfig
	Warehouse     WarehouseConfig
	Artifacts     ArtifactsConfig
	History       HistoryConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// VectorStoreConfig points at the Postgres database holding training items.
// An empty DSN selects the in-memory store.
type VectorStoreConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type AIConfig struct {
	Provider            string
	BaseURL             string
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
	Temperature         float64
	Timeout             time.Duration
	TopK                int
}

type WarehouseConfig struct {
	Driver      string
	DuckDBPath  string
	StepTimeout time.Duration
}

type ArtifactsConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type HistoryConfig struct {
	Driver   string
	RedisURL string
	TTL      time.Duration
	MaxTurns int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYPILOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYPILOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "QUERYPILOT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "QUERYPILOT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "QUERYPILOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "QUERYPILOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "QUERYPILOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "QUERYPILOT_VECTOR_DSN", &cfg.VectorStore.DSN) },
		func() error {
			return applyInt(lookup, "QUERYPILOT_VECTOR_MAX_OPEN_CONNS", &cfg.VectorStore.MaxOpenConns)
		},
		func() error {
			return applyInt(lookup, "QUERYPILOT_VECTOR_MAX_IDLE_CONNS", &cfg.VectorStore.MaxIdleConns)
		},
		func() error {
			return applyDuration(lookup, "QUERYPILOT_VECTOR_CONN_MAX_IDLE_TIME", &cfg.VectorStore.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "QUERYPILOT_VECTOR_CONN_MAX_LIFETIME", &cfg.VectorStore.ConnMaxLifetime)
		},
		func() error { return applyString(lookup, "QUERYPILOT_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_EMBEDDING_MODEL", &cfg.AI.EmbeddingModel) },
		func() error {
			return applyInt(lookup, "QUERYPILOT_AI_EMBEDDING_DIMENSIONS", &cfg.AI.EmbeddingDimensions)
		},
		func() error { return applyFloat(lookup, "QUERYPILOT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "QUERYPILOT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "QUERYPILOT_AI_TOP_K", &cfg.AI.TopK) },
		func() error { return applyString(lookup, "QUERYPILOT_WAREHOUSE_DRIVER", &cfg.Warehouse.Driver) },
		func() error {
			return applyString(lookup, "QUERYPILOT_WAREHOUSE_DUCKDB_PATH", &cfg.Warehouse.DuckDBPath)
		},
		func() error {
			return applyDuration(lookup, "QUERYPILOT_WAREHOUSE_STEP_TIMEOUT", &cfg.Warehouse.StepTimeout)
		},
		func() error { return applyBool(lookup, "QUERYPILOT_ARTIFACTS_ENABLED", &cfg.Artifacts.Enabled) },
		func() error { return applyString(lookup, "QUERYPILOT_ARTIFACTS_ENDPOINT", &cfg.Artifacts.Endpoint) },
		func() error { return applyString(lookup, "QUERYPILOT_ARTIFACTS_REGION", &cfg.Artifacts.Region) },
		func() error { return applyString(lookup, "QUERYPILOT_ARTIFACTS_BUCKET", &cfg.Artifacts.Bucket) },
		func() error {
			return applyString(lookup, "QUERYPILOT_ARTIFACTS_ACCESS_KEY", &cfg.Artifacts.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "QUERYPILOT_ARTIFACTS_SECRET_KEY", &cfg.Artifacts.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "QUERYPILOT_ARTIFACTS_USE_SSL", &cfg.Artifacts.UseSSL) },
		func() error { return applyString(lookup, "QUERYPILOT_ARTIFACTS_PREFIX", &cfg.Artifacts.Prefix) },
		func() error {
			return applyBool(lookup, "QUERYPILOT_ARTIFACTS_AUTO_CREATE_BUCKET", &cfg.Artifacts.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "QUERYPILOT_HISTORY_DRIVER", &cfg.History.Driver) },
		func() error { return applyString(lookup, "QUERYPILOT_HISTORY_REDIS_URL", &cfg.History.RedisURL) },
		func() error { return applyDuration(lookup, "QUERYPILOT_HISTORY_TTL", &cfg.History.TTL) },
		func() error { return applyInt(lookup, "QUERYPILOT_HISTORY_MAX_TURNS", &cfg.History.MaxTurns) },
		func() error { return applyBool(lookup, "QUERYPILOT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "QUERYPILOT_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "QUERYPILOT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "QUERYPILOT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.Provider == AIProviderGemini {
		applyGeminiDefaults(lookup, &cfg.AI)
	}
	cfg.Warehouse.Driver = strings.ToLower(cfg.Warehouse.Driver)
	cfg.History.Driver = strings.ToLower(cfg.History.Driver)

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.AI.Provider {
	case AIProviderOpenAI, AIProviderGemini:
	default:
		return Config{}, fmt.Errorf("invalid QUERYPILOT_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	switch cfg.Warehouse.Driver {
	case WarehouseBigQuery, WarehouseDuckDB:
	default:
		return Config{}, fmt.Errorf("invalid QUERYPILOT_WAREHOUSE_DRIVER: %q", cfg.Warehouse.Driver)
	}
	switch cfg.History.Driver {
	case HistoryMemory:
	case HistoryRedis:
		if cfg.History.RedisURL == "" {
			return Config{}, fmt.Errorf("QUERYPILOT_HISTORY_REDIS_URL is required for redis history")
		}
	default:
		return Config{}, fmt.Errorf("invalid QUERYPILOT_HISTORY_DRIVER: %q", cfg.History.Driver)
	}
	if cfg.AI.EmbeddingDimensions <= 0 {
		return Config{}, fmt.Errorf("embedding dimensions must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querypilot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		AI: AIConfig{
			Provider:            AIProviderOpenAI,
			BaseURL:             "https://api.openai.com",
			Model:               "gpt-4o",
			EmbeddingModel:      "text-embedding-3-large",
			EmbeddingDimensions: 3072,
			Temperature:         0.1,
			Timeout:             60 * time.Second,
			TopK:                10,
		},
		Warehouse: WarehouseConfig{
			Driver:      WarehouseBigQuery,
			DuckDBPath:  "",
			StepTimeout: 2 * time.Minute,
		},
		Artifacts: ArtifactsConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querypilot",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		History: HistoryConfig{
			Driver:   HistoryMemory,
			TTL:      24 * time.Hour,
			MaxTurns: 50,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
		cfg.Warehouse.Driver = WarehouseDuckDB
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Artifacts.UseSSL = true
		cfg.Artifacts.AutoCreateBucket = false
	}

	return cfg
}

// applyGeminiDefaults swaps the OpenAI model defaults for Gemini ones unless
// they were set explicitly.
func applyGeminiDefaults(lookup LookupFunc, ai *AIConfig) {
	if _, ok := lookup("QUERYPILOT_AI_BASE_URL"); !ok {
		ai.BaseURL = ""
	}
	if _, ok := lookup("QUERYPILOT_AI_MODEL"); !ok {
		ai.Model = "gemini-2.5-flash"
	}
	if _, ok := lookup("QUERYPILOT_AI_EMBEDDING_MODEL"); !ok {
		ai.EmbeddingModel = "text-embedding-004"
	}
	if _, ok := lookup("QUERYPILOT_AI_EMBEDDING_DIMENSIONS"); !ok {
		ai.EmbeddingDimensions = 768
	}
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
