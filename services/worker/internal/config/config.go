package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port             string `yaml:"port"`
	LogLevel         string `yaml:"logLevel"`
	LogsDir          string `yaml:"logsDir"`
	DatabaseURL      string `yaml:"databaseURL"`
	QueueBackend     string `yaml:"queueBackend"`
	RabbitURL        string `yaml:"rabbitURL"`
	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	QueueName        string `yaml:"queueName"`
	QueueConcurrency int    `yaml:"queueConcurrency"`
	QueuePrefetch    int    `yaml:"queuePrefetch"`

	SearchLimit     int    `yaml:"searchLimit"`
	RerankTopN      int    `yaml:"rerankTopN"`
	RatePerThousand string `yaml:"ratePerThousand"`
	SystemPrompt    string `yaml:"systemPrompt"`

	GeminiAPIKey       string `yaml:"geminiAPIKey"`
	EmbeddingProvider  string `yaml:"embeddingProvider"`
	EmbeddingBaseURL   string `yaml:"embeddingBaseURL"`
	EmbeddingModel     string `yaml:"embeddingModel"`
	EmbeddingDim       int    `yaml:"embeddingDim"`
	GenerationProvider string `yaml:"generationProvider"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationModel    string `yaml:"generationModel"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("QUERY_QUEUE_BACKEND"); v != "" {
		cfg.QueueBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("QUERY_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("QUERY_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("QUERY_QUEUE_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueuePrefetch = n
		}
	}
	if v := os.Getenv("QUERY_RATE_PER_THOUSAND"); v != "" {
		cfg.RatePerThousand = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch strings.ToLower(cfg.QueueBackend) {
	case "", "rabbitmq":
		if cfg.RabbitURL == "" {
			return errors.New("config: rabbitURL is required (set in config.yaml or RABBITMQ_URL)")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when queueBackend=redis (set in config.yaml or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: unknown queueBackend %q", cfg.QueueBackend)
	}
	if cfg.QueueConcurrency < 0 || cfg.QueuePrefetch < 0 {
		return errors.New("config: queueConcurrency and queuePrefetch must be >= 0")
	}
	if cfg.RatePerThousand != "" {
		rate, err := decimal.NewFromString(cfg.RatePerThousand)
		if err != nil || !rate.IsPositive() {
			return fmt.Errorf("config: ratePerThousand must be a positive decimal, got %q", cfg.RatePerThousand)
		}
	}
	usesGemini := strings.EqualFold(cfg.EmbeddingProvider, "gemini") || cfg.EmbeddingProvider == "" ||
		strings.EqualFold(cfg.GenerationProvider, "gemini") || cfg.GenerationProvider == ""
	if usesGemini && cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required for gemini providers (set in config.yaml or GEMINI_API_KEY)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml)")
	}
	return nil
}
