package app

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePDF(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		max  int64
		ok   bool
	}{
		{name: "pdf", data: []byte("%PDF-1.7\n..."), max: 1024, ok: true},
		{name: "empty", data: nil, max: 1024},
		{name: "wrong magic", data: []byte("<html>"), max: 1024},
		{name: "too large", data: []byte("%PDF-1.7 0123456789"), max: 8},
	}
	for _, tc := range cases {
		err := validatePDF(tc.data, tc.max)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("%s: expected invalid document, got %v", tc.name, err)
		}
	}
}

func TestExtractPDFPagesRejectsUnreadable(t *testing.T) {
	_, err := extractPDFPages([]byte("%PDF-1.4\nthis is not really a pdf"), 500)
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document, got %v", err)
	}
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("a", 25)
	chunks := chunkText(text, 10, 3)
	if len(chunks) != 4 {
		t.Fatalf("len(chunks) = %d, want 4 (%q)", len(chunks), chunks)
	}
	for i, c := range chunks[:3] {
		if len([]rune(c)) != 10 {
			t.Fatalf("chunk %d has %d runes, want 10", i, len([]rune(c)))
		}
	}
	if got := chunkText("", 10, 3); got != nil {
		t.Fatalf("empty text should yield no chunks, got %q", got)
	}
}

func TestChunkPagesTagsPages(t *testing.T) {
	chunks := chunkPages([]string{"first\x00 page", "", "  third   page  "}, 100, 0)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0].Content != "first page" || chunks[0].Metadata["page"] != "1" {
		t.Fatalf("unexpected first chunk %+v", chunks[0])
	}
	if chunks[1].Content != "third page" || chunks[1].Metadata["page"] != "3" {
		t.Fatalf("unexpected second chunk %+v", chunks[1])
	}
}
