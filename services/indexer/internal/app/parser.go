package app

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrInvalidDocument marks files that will never index; they fail without retry.
var ErrInvalidDocument = errors.New("invalid document")

var pdfMagic = []byte("%PDF")

type chunkPayload struct {
	Content  string
	Metadata map[string]string
}

// validatePDF checks the header bytes only; readability is checked on parse.
func validatePDF(data []byte, maxBytes int64) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidDocument)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidDocument, maxBytes)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return fmt.Errorf("%w: not a PDF file", ErrInvalidDocument)
	}
	return nil
}

// extractPDFPages returns the plain text of every page, in order. Pages that
// fail to decode come back empty.
func extractPDFPages(data []byte, maxPages int) (pages []string, err error) {
	defer func() {
		// The PDF reader panics on some malformed inputs.
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: unreadable PDF: %v", ErrInvalidDocument, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable PDF: %v", ErrInvalidDocument, err)
	}
	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: PDF has no pages", ErrInvalidDocument)
	}
	if maxPages > 0 && total > maxPages {
		return nil, fmt.Errorf("%w: PDF has %d pages, limit is %d", ErrInvalidDocument, total, maxPages)
	}
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// chunkPages splits each page into overlapping chunks tagged with the
// 1-based page number and the chunk index within the page.
func chunkPages(pages []string, size, overlap int) []chunkPayload {
	var chunks []chunkPayload
	for i, raw := range pages {
		text := normalizeText(raw)
		for idx, part := range chunkText(text, size, overlap) {
			chunks = append(chunks, chunkPayload{
				Content: part,
				Metadata: map[string]string{
					"page":  strconv.Itoa(i + 1),
					"chunk": strconv.Itoa(idx),
				},
			})
		}
	}
	return chunks
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
