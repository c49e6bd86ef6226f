// Package prompt renders the named prompt templates shipped with the binary.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"
)

// RAGAnswer renders a grounded answer prompt. It takes "data" (the labelled
// context) and "question".
const RAGAnswer = "rag_answer"

var ErrUnknownTemplate = errors.New("unknown prompt template")

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer resolves prompts by name.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("prompts").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the template called name with vars.
func (r *Renderer) Render(name string, vars map[string]string) (string, error) {
	t := r.tmpl.Lookup(path.Base(name) + ".tmpl")
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return sb.String(), nil
}
