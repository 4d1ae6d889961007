// Package prompt renders the summarization prompt sent to the LLM. The
// template can be replaced with a file; the default asks for a detailed
// technical summary of a research paper.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/template"
)

// DefaultTemplate is used when no template file is configured.
const DefaultTemplate = `
You are a research assistant. Read the following research paper and write a detailed, comprehensive, and technical summary.
Preserve important terminology, methods, and findings. Be as exhaustive and accurate as possible.

--- START OF PAPER ---
{{.Text}}
--- END OF PAPER ---
`

// ErrEmptyText is returned when rendering a prompt for empty document text.
var ErrEmptyText = errors.New("document text cannot be empty")

// Template is a parsed prompt template.
type Template struct {
	tmpl *template.Template
}

type promptData struct {
	Text string
}

// New parses source as a prompt template. It must reference {{.Text}}.
func New(source string) (*Template, error) {
	tmpl, err := template.New("summary").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &Template{tmpl: tmpl}, nil
}

// Load reads a template from path, or returns the default for an empty path.
func Load(path string) (*Template, error) {
	if path == "" {
		return New(DefaultTemplate)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template from %s: %w", path, err)
	}
	return New(string(content))
}

// Render substitutes text into the template.
func (t *Template) Render(text string) (string, error) {
	if text == "" {
		return "", ErrEmptyText
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, promptData{Text: text}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
