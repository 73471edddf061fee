// Package convert provides document-to-Markdown conversion backends fed to
// the batch processor. Backends are pluggable behind the Converter
// interface; the Dispatcher routes by file extension.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Converter transforms one input file into Markdown text.
type Converter interface {
	Convert(ctx context.Context, inputPath string) (string, error)
}

// Dispatcher routes inputs to a backend by extension (case-insensitive).
type Dispatcher struct {
	backends map[string]Converter
}

// NewDispatcher builds a dispatcher with the built-in backends: passthrough
// for text and Markdown, HTML-to-Markdown and CSV tables.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{backends: make(map[string]Converter)}
	text := &TextConverter{}
	d.Register(text, ".txt", ".md", ".markdown")
	d.Register(NewHTMLConverter(), ".html", ".htm")
	d.Register(&CSVConverter{}, ".csv")
	return d
}

// Register maps extensions to a backend, overriding earlier registrations.
func (d *Dispatcher) Register(c Converter, extensions ...string) {
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.backends[ext] = c
	}
}

// Extensions lists the registered extensions.
func (d *Dispatcher) Extensions() []string {
	out := make([]string, 0, len(d.backends))
	for ext := range d.backends {
		out = append(out, ext)
	}
	return out
}

// Convert routes the file to the backend registered for its extension.
func (d *Dispatcher) Convert(ctx context.Context, inputPath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(inputPath))
	backend, ok := d.backends[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
	return backend.Convert(ctx, inputPath)
}

// TextConverter passes text and Markdown files through unchanged.
type TextConverter struct{}

func (TextConverter) Convert(_ context.Context, inputPath string) (string, error) {
	data, err := os.ReadFile(inputPath) //nolint:gosec // caller-supplied input path
	if err != nil {
		return "", fmt.Errorf("read %s: %w", inputPath, err)
	}
	return string(data), nil
}
