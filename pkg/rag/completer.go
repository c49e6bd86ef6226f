package rag

import (
	"context"
	"fmt"

	"docqa/pkg/ai"
)

const defaultSystemPrompt = "You are a careful assistant. Answer strictly from the provided document excerpts."

// GeneratorCompleter adapts an ai.TextGenerator to Completer.
type GeneratorCompleter struct {
	generator    ai.TextGenerator
	systemPrompt string
}

func NewGeneratorCompleter(generator ai.TextGenerator, systemPrompt string) *GeneratorCompleter {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &GeneratorCompleter{generator: generator, systemPrompt: systemPrompt}
}

func (c *GeneratorCompleter) Complete(ctx context.Context, prompt string) (Completion, error) {
	gen, err := c.generator.GenerateText(ctx, c.systemPrompt, prompt)
	if err != nil {
		return Completion{}, fmt.Errorf("generate answer: %w", err)
	}
	return Completion{
		Text:         gen.Text,
		InputTokens:  gen.Usage.InputTokens,
		OutputTokens: gen.Usage.OutputTokens,
	}, nil
}
