package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"threatlens-lab/internal/domain/models"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Rebuild   RebuildConfig   `mapstructure:"rebuild"`

	// Matching seeds the singleton matching configuration when the
	// database holds none yet. Runtime mutations go through the config
	// endpoint, not this file.
	Matching models.MatchingConfig `mapstructure:"matching"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Schema          string        `mapstructure:"schema"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.Schema,
	)
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EmbeddingConfig configures the embedding collaborator
type EmbeddingConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Dimensions        int           `mapstructure:"dimensions"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BatchSize         int           `mapstructure:"batch_size"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	SynopsisRunes     int           `mapstructure:"synopsis_runes"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// RebuildConfig controls the full-corpus recompute job
type RebuildConfig struct {
	CheckpointTTL time.Duration `mapstructure:"checkpoint_ttl"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/threatlens-lab")
	}

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("THREATLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind nested env vars explicitly (viper doesn't auto-bind nested struct fields)
	v.BindEnv("database.host", "THREATLENS_DATABASE_HOST")
	v.BindEnv("database.port", "THREATLENS_DATABASE_PORT")
	v.BindEnv("database.user", "THREATLENS_DATABASE_USER")
	v.BindEnv("database.password", "THREATLENS_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "THREATLENS_DATABASE_DBNAME")
	v.BindEnv("database.sslmode", "THREATLENS_DATABASE_SSLMODE")
	v.BindEnv("redis.host", "THREATLENS_REDIS_HOST")
	v.BindEnv("redis.port", "THREATLENS_REDIS_PORT")
	v.BindEnv("redis.password", "THREATLENS_REDIS_PASSWORD")
	v.BindEnv("embedding.api_key", "THREATLENS_EMBEDDING_API_KEY")
	v.BindEnv("embedding.base_url", "THREATLENS_EMBEDDING_BASE_URL")
	v.BindEnv("app.environment", "THREATLENS_APP_ENVIRONMENT")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Matching.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "threatlens-lab")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "threatlens")
	v.SetDefault("database.dbname", "threatlens")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "threatlens:")

	v.SetDefault("embedding.enabled", true)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.requests_per_second", 5.0)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.cache_ttl", 6*time.Hour)
	v.SetDefault("embedding.synopsis_runes", 1200)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_minute", 300)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("rebuild.checkpoint_ttl", 7*24*time.Hour)

	// Matching defaults mirror models.DefaultMatchingConfig
	def := models.DefaultMatchingConfig()
	v.SetDefault("matching.lookback_days", def.LookbackDays)
	v.SetDefault("matching.weights.indicator", def.Weights.Indicator)
	v.SetDefault("matching.weights.technique", def.Weights.Technique)
	v.SetDefault("matching.weights.actor", def.Weights.Actor)
	v.SetDefault("matching.weights.semantic", def.Weights.Semantic)
	v.SetDefault("matching.minimum_score", def.MinimumScore)
	v.SetDefault("matching.minimum_shared_entities", def.MinimumSharedEntities)
	v.SetDefault("matching.semantic_threshold", def.SemanticThreshold)
	v.SetDefault("matching.semantic_candidate_cap", def.SemanticCandidateCap)
	v.SetDefault("matching.require_exact_match", def.RequireExactMatch)
	v.SetDefault("matching.campaign.enabled", def.Campaign.Enabled)
	v.SetDefault("matching.campaign.time_window_days", def.Campaign.TimeWindowDays)
	v.SetDefault("matching.campaign.min_articles", def.Campaign.MinArticles)
	v.SetDefault("matching.campaign.min_shared_entities", def.Campaign.MinSharedEntities)
	v.SetDefault("matching.priority.salience_weight", def.Priority.SalienceWeight)
	v.SetDefault("matching.priority.association_weight", def.Priority.AssociationWeight)
	v.SetDefault("matching.priority.recency_weight", def.Priority.RecencyWeight)
	v.SetDefault("matching.priority.top_relationships", def.Priority.TopRelationships)
	v.SetDefault("matching.priority.half_life_days", def.Priority.HalfLifeDays)
	v.SetDefault("matching.dedup.lookback_days", def.Dedup.LookbackDays)
	v.SetDefault("matching.dedup.threshold", def.Dedup.Threshold)
	v.SetDefault("matching.dedup.title_floor", def.Dedup.TitleFloor)
	v.SetDefault("matching.dedup.content_prefix", def.Dedup.ContentPrefix)
	v.SetDefault("matching.dedup.title_weight", def.Dedup.TitleWeight)
	v.SetDefault("matching.dedup.content_weight", def.Dedup.ContentWeight)
	v.SetDefault("matching.dedup.proximity_boost", def.Dedup.ProximityBoost)
}
