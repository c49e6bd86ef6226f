package ai

import (
	"fmt"
	"strings"
)

// EmbeddingConfig selects and configures an embedding provider.
type EmbeddingConfig struct {
	Provider     string // gemini | ollama
	BaseURL      string
	Model        string
	Dim          int
	GeminiAPIKey string
}

// GenerationConfig selects and configures a text generation provider.
type GenerationConfig struct {
	Provider     string // gemini | ollama | openai
	BaseURL      string
	Model        string
	APIKey       string
	GeminiAPIKey string
}

// NewEmbedder builds the configured embedder and returns the expected vector
// dimension (0 when the provider decides).
func NewEmbedder(cfg EmbeddingConfig) (Embedder, int, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, 0, fmt.Errorf("embedding model required")
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "gemini"
	}
	dim := cfg.Dim
	switch provider {
	case "ollama":
		if dim <= 0 {
			return nil, 0, fmt.Errorf("embedding dim required for ollama")
		}
		return NewOllamaEmbedder(NewOllamaClient(cfg.BaseURL), cfg.Model, dim), dim, nil
	case "gemini":
		gemini, err := NewGeminiClient(cfg.GeminiAPIKey, cfg.BaseURL)
		if err != nil {
			return nil, 0, err
		}
		return NewGeminiEmbedder(gemini, cfg.Model), dim, nil
	default:
		return nil, 0, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

// NewGenerator builds the configured text generator.
func NewGenerator(cfg GenerationConfig) (TextGenerator, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("generation model required")
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "gemini"
	}
	switch provider {
	case "gemini":
		gemini, err := NewGeminiClient(cfg.GeminiAPIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewGeminiGenerator(gemini, cfg.Model), nil
	case "ollama":
		return NewOllamaGenerator(NewOllamaClient(cfg.BaseURL), cfg.Model), nil
	case "openai", "openai-compat":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("generation base url required for openai-compatible provider")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", provider)
	}
}
