package rag

import (
	"context"
	"fmt"
	"strings"

	"docqa/pkg/ai"
	"docqa/pkg/domain"
)

const defaultSearchLimit = 10

// ChunkIndex is the vector lookup a VectorSearcher needs.
type ChunkIndex interface {
	SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int) ([]domain.Chunk, error)
}

// VectorSearcher embeds the question and looks up the nearest chunks of a
// document.
type VectorSearcher struct {
	embedder ai.Embedder
	index    ChunkIndex
	limit    int
}

func NewVectorSearcher(embedder ai.Embedder, index ChunkIndex, limit int) *VectorSearcher {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &VectorSearcher{embedder: embedder, index: index, limit: limit}
}

func (s *VectorSearcher) Search(ctx context.Context, documentID, question string) ([]Passage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question required")
	}
	embedding, err := s.embedder.EmbedText(ctx, question, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	chunks, err := s.index.SearchChunks(ctx, documentID, embedding, s.limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	out := make([]Passage, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		out = append(out, Passage{ChunkID: c.ID, Text: c.Content, Metadata: c.Metadata, Score: c.Score})
	}
	return out, nil
}
