package prompt

import (
	"errors"
	"strings"
	"testing"
)

func TestRenderRAGAnswer(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	out, err := r.Render(RAGAnswer, map[string]string{
		"data":     "[Chunk 1]\nThe sky is blue.\n",
		"question": "What colour is the sky?",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "[Chunk 1]\nThe sky is blue.") || !strings.Contains(out, "Question: What colour is the sky?") {
		t.Fatalf("unexpected prompt:\n%s", out)
	}
}

func TestRenderMissingVariableFails(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	if _, err := r.Render(RAGAnswer, map[string]string{"data": "x"}); err == nil {
		t.Fatalf("expected missing question to fail")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	if _, err := r.Render("nope", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}
