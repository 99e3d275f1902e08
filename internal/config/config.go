package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	AI        AIConfig
	Providers ProvidersConfig
	R2        R2Config
	Pipeline  PipelineConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	IntakePerHour  int
	AdvancePerMin  int
	PublishPerHour int
	ConfigPerMin   int
}

// AIConfig bounds every step-executor invocation.
type AIConfig struct {
	Timeout      int // seconds, per backend call
	MaxAttempts  int // bounded retry budget for transient failures
	RetryBackoff int // seconds, multiplied by attempt number
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig
	OpenRouter ProviderConfig
	Groq       ProviderConfig
}

type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// PipelineConfig declares the fixed stage list for the deployment plus
// artifact retention/caching knobs.
type PipelineConfig struct {
	LeaseTTL    int // seconds a per-document lease may be held
	CacheTTL    int // seconds served artifacts stay in the local cache
	ArtifactTTL int // seconds for the public Cache-Control header
	GCKeep      int // versions per stage kept by gc on published documents
	Stages      []StageSeed
}

// StageSeed declares one stage and, optionally, a seed configuration written
// at startup only if the stage has never been configured.
type StageSeed struct {
	ID       string `mapstructure:"id"`
	Kind     string `mapstructure:"kind"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Prompt   string `mapstructure:"prompt"`
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("OPENAI_API_KEY")
	readSecret("OPENROUTER_API_KEY")
	readSecret("GROQ_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ai.timeout", "AI_TIMEOUT")
	_ = viper.BindEnv("ai.max_attempts", "AI_MAX_ATTEMPTS")
	_ = viper.BindEnv("ai.retry_backoff", "AI_RETRY_BACKOFF")
	_ = viper.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("providers.openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("providers.openrouter.api_key", "OPENROUTER_API_KEY")
	_ = viper.BindEnv("providers.openrouter.base_url", "OPENROUTER_BASE_URL")
	_ = viper.BindEnv("providers.groq.api_key", "GROQ_API_KEY")
	_ = viper.BindEnv("providers.groq.base_url", "GROQ_BASE_URL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("pipeline.lease_ttl", "PIPELINE_LEASE_TTL")
	_ = viper.BindEnv("pipeline.cache_ttl", "PIPELINE_CACHE_TTL")
	_ = viper.BindEnv("pipeline.artifact_ttl", "PIPELINE_ARTIFACT_TTL")
	_ = viper.BindEnv("pipeline.gc_keep", "PIPELINE_GC_KEEP")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.intake_per_hour", 50)
	viper.SetDefault("ratelimit.advance_per_min", 60)
	viper.SetDefault("ratelimit.publish_per_hour", 30)
	viper.SetDefault("ratelimit.config_per_min", 30)

	// Step executor defaults
	viper.SetDefault("ai.timeout", 120)
	viper.SetDefault("ai.max_attempts", 3)
	viper.SetDefault("ai.retry_backoff", 2)

	// Provider defaults (OpenAI-compatible endpoints)
	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openrouter.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("providers.groq.base_url", "https://api.groq.com/openai/v1")

	// Pipeline defaults
	viper.SetDefault("pipeline.lease_ttl", 900)
	viper.SetDefault("pipeline.cache_ttl", 300)
	viper.SetDefault("pipeline.artifact_ttl", 3600)
	viper.SetDefault("pipeline.gc_keep", 1)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	var stages []StageSeed
	if err := viper.UnmarshalKey("pipeline.stages", &stages); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			IntakePerHour:  viper.GetInt("ratelimit.intake_per_hour"),
			AdvancePerMin:  viper.GetInt("ratelimit.advance_per_min"),
			PublishPerHour: viper.GetInt("ratelimit.publish_per_hour"),
			ConfigPerMin:   viper.GetInt("ratelimit.config_per_min"),
		},
		AI: AIConfig{
			Timeout:      viper.GetInt("ai.timeout"),
			MaxAttempts:  viper.GetInt("ai.max_attempts"),
			RetryBackoff: viper.GetInt("ai.retry_backoff"),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:  viper.GetString("providers.openai.api_key"),
				BaseURL: viper.GetString("providers.openai.base_url"),
			},
			OpenRouter: ProviderConfig{
				APIKey:  viper.GetString("providers.openrouter.api_key"),
				BaseURL: viper.GetString("providers.openrouter.base_url"),
			},
			Groq: ProviderConfig{
				APIKey:  viper.GetString("providers.groq.api_key"),
				BaseURL: viper.GetString("providers.groq.base_url"),
			},
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Pipeline: PipelineConfig{
			LeaseTTL:    viper.GetInt("pipeline.lease_ttl"),
			CacheTTL:    viper.GetInt("pipeline.cache_ttl"),
			ArtifactTTL: viper.GetInt("pipeline.artifact_ttl"),
			GCKeep:      viper.GetInt("pipeline.gc_keep"),
			Stages:      stages,
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
