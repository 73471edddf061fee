package convert

import (
	"context"
	"fmt"
	"os"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// HTMLConverter converts HTML documents to Markdown.
type HTMLConverter struct {
	converter *md.Converter
}

func NewHTMLConverter() *HTMLConverter {
	return &HTMLConverter{converter: md.NewConverter("", true, nil)}
}

func (c *HTMLConverter) Convert(_ context.Context, inputPath string) (string, error) {
	data, err := os.ReadFile(inputPath) //nolint:gosec // caller-supplied input path
	if err != nil {
		return "", fmt.Errorf("read %s: %w", inputPath, err)
	}
	markdown, err := c.converter.ConvertString(string(data))
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", inputPath, err)
	}
	return markdown, nil
}
