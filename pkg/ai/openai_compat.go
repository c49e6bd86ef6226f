package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator targets any /chat/completions endpoint that speaks the
// OpenAI wire format. baseURL includes the version prefix, e.g.
// http://localhost:8000/v1. apiKey may be empty for local servers.
type OpenAICompatGenerator struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	return &OpenAICompatGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Generation, error) {
	if g.model == "" {
		return Generation{}, errors.New("openai-compat generation model required")
	}
	var headers map[string]string
	if g.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + g.apiKey}
	}
	req := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}{Model: g.model, Messages: chatMessages(systemPrompt, userPrompt)}
	var resp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := postJSON(ctx, g.http, "openai-compat", g.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return Generation{}, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Generation{}, errors.New("empty response from openai-compat api")
	}
	return Generation{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
