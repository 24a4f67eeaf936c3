package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Session SessionConfig
	Events  EventsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Session: session, Events: loadEventsConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Supported LLM providers.
const (
	ProviderArk       = "ark"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultTemperature is the sampling temperature used for tutoring replies.
const DefaultTemperature = 0.7

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature float64
	MaxTokens   int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// Validate reports why a model cannot be built from this configuration.
func (c AIConfig) Validate() error {
	switch c.Provider {
	case ProviderArk, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("LLM_MODEL is required for provider %s", c.Provider)
	}
	if !c.Enabled() {
		return fmt.Errorf("API key for provider %s is not configured", c.Provider)
	}
	return nil
}

// NewArkChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	temperature := float32(c.Temperature)
	maxTokens := c.MaxTokens

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderArk))

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	temp := DefaultTemperature
	if temperature != nil {
		temp = *temperature
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	tokens := 1024
	if maxTokens != nil && *maxTokens > 0 {
		tokens = *maxTokens
	}

	cfg := AIConfig{
		Provider:    provider,
		Model:       strings.TrimSpace(os.Getenv("LLM_MODEL")),
		BaseURL:     strings.TrimSpace(os.Getenv("LLM_BASE_URL")),
		Temperature: temp,
		MaxTokens:   tokens,
	}

	switch provider {
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://ark.cn-beijing.volces.com/api/v3"
		}
	case ProviderOpenAI:
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
	case ProviderAnthropic:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		if cfg.Model == "" {
			cfg.Model = "claude-3-5-haiku-latest"
		}
	}

	return cfg, nil
}

// Session storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// SessionConfig 描述会话存储配置。
type SessionConfig struct {
	Backend         string
	TTL             time.Duration
	CleanupInterval time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	PostgresDSN     string
}

func loadSessionConfig() (SessionConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("SESSION_BACKEND", BackendMemory))
	switch backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return SessionConfig{}, fmt.Errorf("invalid SESSION_BACKEND value: %q", backend)
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 14*24*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	cleanup, err := parseDurationEnv("SESSION_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	redisDB := 0
	if db, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return SessionConfig{}, err
	} else if db != nil {
		redisDB = *db
	}

	cfg := SessionConfig{
		Backend:         backend,
		TTL:             ttl,
		CleanupInterval: cleanup,
		RedisAddr:       getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         redisDB,
		PostgresDSN:     strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
	}

	if backend == BackendPostgres && cfg.PostgresDSN == "" {
		return SessionConfig{}, fmt.Errorf("POSTGRES_DSN is required when SESSION_BACKEND=postgres")
	}

	return cfg, nil
}

// EventsConfig 描述会话事件发布配置，NATSURL 为空时不发布。
type EventsConfig struct {
	NATSURL string
	Subject string
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		NATSURL: strings.TrimSpace(os.Getenv("NATS_URL")),
		Subject: getEnvOrDefault("NATS_SUBJECT", "chat.exchange"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
