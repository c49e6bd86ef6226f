package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient talks to the Generative Language API. The key travels in the
// x-goog-api-key header so it never lands in URLs or access logs.
type GeminiClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewGeminiClient(apiKey, baseURL string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{apiKey: apiKey, baseURL: baseURL, http: &http.Client{Timeout: 60 * time.Second}}, nil
}

func (c *GeminiClient) call(ctx context.Context, model, method string, payload, out any) error {
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if model == "" {
		return errors.New("gemini model required")
	}
	url := fmt.Sprintf("%s/models/%s:%s", c.baseURL, model, method)
	return postJSON(ctx, c.http, "gemini", url, map[string]string{"x-goog-api-key": c.apiKey}, payload, out)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// EmbedText embeds a single text. taskType is passed through when set, e.g.
// RETRIEVAL_DOCUMENT while indexing and RETRIEVAL_QUERY while answering.
func (c *GeminiClient) EmbedText(ctx context.Context, model, text, taskType string) ([]float32, error) {
	req := struct {
		Content  geminiContent `json:"content"`
		TaskType string        `json:"taskType,omitempty"`
	}{Content: geminiContent{Parts: []geminiPart{{Text: text}}}, TaskType: taskType}
	var resp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := c.call(ctx, model, "embedContent", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, errors.New("gemini returned an empty embedding")
	}
	return resp.Embedding.Values, nil
}

// GenerateText runs one non-streaming completion and reports token usage
// from usageMetadata.
func (c *GeminiClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (Generation, error) {
	req := struct {
		Contents          []geminiContent `json:"contents"`
		SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	}{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: userPrompt}}}}}
	if strings.TrimSpace(systemPrompt) != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	var resp struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := c.call(ctx, model, "generateContent", req, &resp); err != nil {
		return Generation{}, err
	}
	if len(resp.Candidates) == 0 {
		return Generation{}, errors.New("empty response from gemini")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return Generation{}, errors.New("empty response from gemini")
	}
	return Generation{
		Text: sb.String(),
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// GeminiGenerator binds a GeminiClient to one model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Generation, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}
