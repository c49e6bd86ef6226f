// Package rag defines the retrieval pipeline used to answer a question
// against one document: similarity search, rerank, context assembly and
// completion.
package rag

import (
	"context"
	"fmt"
	"strings"
)

// Passage is one search hit. Score is the vector similarity, higher is closer.
type Passage struct {
	ChunkID  string
	Text     string
	Metadata map[string]string
	Score    float64
}

// RankedPassage is a reranked candidate. Index points into the slice that
// was passed to Rerank.
type RankedPassage struct {
	Index int
	Text  string
	Score float64
}

// Completion is the answer text with the token usage of that single call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

func (c Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

type Searcher interface {
	Search(ctx context.Context, documentID, question string) ([]Passage, error)
}

// Reranker orders candidates by relevance and keeps the best ones.
type Reranker interface {
	Rerank(ctx context.Context, question string, candidates []string) ([]RankedPassage, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// BuildContext labels each passage "[Chunk i]" starting at 1.
func BuildContext(passages []RankedPassage) string {
	parts := make([]string, 0, len(passages))
	for i, p := range passages {
		parts = append(parts, fmt.Sprintf("[Chunk %d]\n%s\n", i+1, p.Text))
	}
	return strings.Join(parts, "\n")
}
