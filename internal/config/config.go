package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ResponseShape selects how a relay route renders its result.
type ResponseShape string

const (
	// ShapeWrapped returns {"response": reply} built from choices[0].message.content.
	ShapeWrapped ResponseShape = "wrapped"
	// ShapePassthrough returns the upstream JSON body as-is.
	ShapePassthrough ResponseShape = "passthrough"
)

// StatusPolicy selects which HTTP status an upstream failure is reported with.
type StatusPolicy string

const (
	// StatusNormalize reports every upstream failure as 500.
	StatusNormalize StatusPolicy = "normalize"
	// StatusPassthrough mirrors the upstream's own status code.
	StatusPassthrough StatusPolicy = "passthrough"
)

const defaultSystemPrompt = "You are a friendly and helpful AI assistant. Reply in Chinese and give accurate, useful information."

// Profile binds a response shape and a status policy to one relay route.
type Profile struct {
	Shape  ResponseShape
	Status StatusPolicy
}

// Upstream describes the single chat-completion endpoint the relay talks to.
type Upstream struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	MaxTokens      int
	TimeoutSeconds int
}

type Config struct {
	// Server
	Port            string
	Env             string
	CORSAllowOrigin string

	// Logging
	LogLevel string
	LogFile  string

	// Upstream
	Upstream Upstream

	// Relay
	SystemPrompt string
	HistoryLimit int
	MaxBodyBytes int64
	Chat         Profile
	Completions  Profile

	// Observability
	MetricsEnabled bool

	// Exchange recorder sinks (optional)
	DatabaseURL       string
	RedisURL          string
	RecorderWorkers   int
	RecorderQueueSize int
}

// fileConfig mirrors the optional YAML overlay pointed to by RELAY_CONFIG_FILE.
type fileConfig struct {
	Upstream struct {
		BaseURL        string   `yaml:"base_url"`
		Model          string   `yaml:"model"`
		Temperature    *float64 `yaml:"temperature"`
		MaxTokens      int      `yaml:"max_tokens"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"upstream"`
	SystemPrompt string `yaml:"system_prompt"`
	HistoryLimit *int   `yaml:"history_limit"`
	Profiles     map[string]struct {
		Shape  string `yaml:"shape"`
		Status string `yaml:"status_policy"`
	} `yaml:"profiles"`
}

func defaults() *Config {
	return &Config{
		Port:            "8787",
		Env:             "development",
		CORSAllowOrigin: "*",
		LogLevel:        "info",
		Upstream: Upstream{
			BaseURL:        "https://api.deepseek.com/v1",
			Model:          "deepseek-chat",
			Temperature:    0.7,
			MaxTokens:      2000,
			TimeoutSeconds: 60,
		},
		SystemPrompt:      defaultSystemPrompt,
		HistoryLimit:      10,
		MaxBodyBytes:      1 << 20,
		Chat:              Profile{Shape: ShapeWrapped, Status: StatusNormalize},
		Completions:       Profile{Shape: ShapePassthrough, Status: StatusPassthrough},
		MetricsEnabled:    true,
		RecorderWorkers:   2,
		RecorderQueueSize: 256,
	}
}

// Load builds the configuration from built-in defaults, the optional YAML
// file named by RELAY_CONFIG_FILE and finally the process environment.
// The upstream API key is not required here; the relay checks it per call.
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.CORSAllowOrigin = getEnvOrDefault("CORS_ALLOW_ORIGIN", cfg.CORSAllowOrigin)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnvOrDefault("LOG_FILE", cfg.LogFile)

	cfg.Upstream.APIKey = getEnvOrDefault("UPSTREAM_API_KEY", os.Getenv("DEEPSEEK_API_KEY"))
	cfg.Upstream.BaseURL = strings.TrimRight(getEnvOrDefault("UPSTREAM_BASE_URL", cfg.Upstream.BaseURL), "/")
	cfg.Upstream.Model = getEnvOrDefault("UPSTREAM_MODEL", cfg.Upstream.Model)
	cfg.Upstream.Temperature = getEnvAsFloatOrDefault("UPSTREAM_TEMPERATURE", cfg.Upstream.Temperature)
	cfg.Upstream.MaxTokens = getEnvAsIntOrDefault("UPSTREAM_MAX_TOKENS", cfg.Upstream.MaxTokens)
	cfg.Upstream.TimeoutSeconds = getEnvAsIntOrDefault("UPSTREAM_TIMEOUT_SECONDS", cfg.Upstream.TimeoutSeconds)

	cfg.SystemPrompt = getEnvOrDefault("SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.HistoryLimit = getEnvAsIntOrDefault("HISTORY_LIMIT", cfg.HistoryLimit)
	cfg.MaxBodyBytes = int64(getEnvAsIntOrDefault("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))

	cfg.Chat.Shape = ResponseShape(getEnvOrDefault("CHAT_RESPONSE_SHAPE", string(cfg.Chat.Shape)))
	cfg.Chat.Status = StatusPolicy(getEnvOrDefault("CHAT_STATUS_POLICY", string(cfg.Chat.Status)))
	cfg.Completions.Shape = ResponseShape(getEnvOrDefault("COMPLETIONS_RESPONSE_SHAPE", string(cfg.Completions.Shape)))
	cfg.Completions.Status = StatusPolicy(getEnvOrDefault("COMPLETIONS_STATUS_POLICY", string(cfg.Completions.Status)))

	cfg.MetricsEnabled = getEnvAsBoolOrDefault("METRICS_ENABLED", cfg.MetricsEnabled)

	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RecorderWorkers = getEnvAsIntOrDefault("RECORDER_WORKERS", cfg.RecorderWorkers)
	cfg.RecorderQueueSize = getEnvAsIntOrDefault("RECORDER_QUEUE_SIZE", cfg.RecorderQueueSize)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	for name, p := range map[string]Profile{"chat": c.Chat, "completions": c.Completions} {
		if p.Shape != ShapeWrapped && p.Shape != ShapePassthrough {
			return fmt.Errorf("profile %s: unknown response shape %q", name, p.Shape)
		}
		if p.Status != StatusNormalize && p.Status != StatusPassthrough {
			return fmt.Errorf("profile %s: unknown status policy %q", name, p.Status)
		}
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is empty")
	}
	if c.Upstream.Model == "" {
		return fmt.Errorf("upstream model is empty")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit must not be negative, got %d", c.HistoryLimit)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.Upstream.BaseURL != "" {
		cfg.Upstream.BaseURL = fc.Upstream.BaseURL
	}
	if fc.Upstream.Model != "" {
		cfg.Upstream.Model = fc.Upstream.Model
	}
	if fc.Upstream.Temperature != nil {
		cfg.Upstream.Temperature = *fc.Upstream.Temperature
	}
	if fc.Upstream.MaxTokens > 0 {
		cfg.Upstream.MaxTokens = fc.Upstream.MaxTokens
	}
	if fc.Upstream.TimeoutSeconds > 0 {
		cfg.Upstream.TimeoutSeconds = fc.Upstream.TimeoutSeconds
	}
	if fc.SystemPrompt != "" {
		cfg.SystemPrompt = strings.TrimSpace(fc.SystemPrompt)
	}
	if fc.HistoryLimit != nil {
		cfg.HistoryLimit = *fc.HistoryLimit
	}

	for name, p := range fc.Profiles {
		var target *Profile
		switch name {
		case "chat":
			target = &cfg.Chat
		case "completions":
			target = &cfg.Completions
		default:
			return fmt.Errorf("parse config %s: unknown profile %q", path, name)
		}
		if p.Shape != "" {
			target.Shape = ResponseShape(p.Shape)
		}
		if p.Status != "" {
			target.Status = StatusPolicy(p.Status)
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
