package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient calls a local or remote Ollama server.
type OllamaClient struct {
	baseURL string
	http    *http.Client
}

func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaClient{baseURL: baseURL, http: &http.Client{Timeout: 120 * time.Second}}
}

func (c *OllamaClient) post(ctx context.Context, path string, payload, out any) error {
	return postJSON(ctx, c.http, "ollama", c.baseURL+path, nil, payload, out)
}

type ollamaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// EmbedTexts embeds texts in one /api/embed call. Servers that predate
// /api/embed get one /api/embeddings call per text.
func (c *OllamaClient) EmbedTexts(ctx context.Context, model string, texts []string, dimensions int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("ollama embedding model required")
	}
	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := c.post(ctx, "/api/embed", ollamaEmbedRequest{Model: model, Input: texts, Dimensions: dimensions}, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusMethodNotAllowed) {
		return c.embedEach(ctx, model, texts)
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (c *OllamaClient) embedEach(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp struct {
			Embedding []float32 `json:"embedding"`
		}
		req := struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}{Model: model, Prompt: text}
		if err := c.post(ctx, "/api/embeddings", req, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			return nil, errors.New("ollama embedding response missing embedding")
		}
		out = append(out, resp.Embedding)
	}
	return out, nil
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Chat runs one non-streaming /api/chat call. Usage comes from
// prompt_eval_count and eval_count.
func (c *OllamaClient) Chat(ctx context.Context, model, systemPrompt, userPrompt string) (Generation, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return Generation{}, errors.New("ollama generation model required")
	}
	var resp struct {
		Message         chatMessage `json:"message"`
		PromptEvalCount int         `json:"prompt_eval_count"`
		EvalCount       int         `json:"eval_count"`
	}
	req := ollamaChatRequest{Model: model, Messages: chatMessages(systemPrompt, userPrompt)}
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return Generation{}, err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return Generation{}, errors.New("empty response from ollama")
	}
	return Generation{
		Text:  resp.Message.Content,
		Usage: Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount},
	}, nil
}

// OllamaGenerator binds an OllamaClient to one chat model.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Generation, error) {
	return g.client.Chat(ctx, g.model, systemPrompt, userPrompt)
}
