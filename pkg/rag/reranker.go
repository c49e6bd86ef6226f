package rag

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

const defaultTopN = 5

// LexicalReranker scores candidates by the share of distinct question terms
// they contain and keeps the TopN best. Ties keep search order.
type LexicalReranker struct {
	TopN int
}

func NewLexicalReranker(topN int) *LexicalReranker {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &LexicalReranker{TopN: topN}
}

func (r *LexicalReranker) Rerank(_ context.Context, question string, candidates []string) ([]RankedPassage, error) {
	terms := termSet(question)
	ranked := make([]RankedPassage, 0, len(candidates))
	for i, text := range candidates {
		ranked = append(ranked, RankedPassage{Index: i, Text: text, Score: overlap(terms, termSet(text))})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	topN := r.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

func termSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func overlap(question, candidate map[string]struct{}) float64 {
	if len(question) == 0 {
		return 0
	}
	hits := 0
	for term := range question {
		if _, ok := candidate[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(question))
}
