package convert

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVConverter renders a CSV file as a Markdown table. The first record is
// treated as the header row.
type CSVConverter struct{}

func (CSVConverter) Convert(_ context.Context, inputPath string) (string, error) {
	f, err := os.Open(inputPath) //nolint:gosec // caller-supplied input path
	if err != nil {
		return "", fmt.Errorf("open %s: %w", inputPath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", inputPath, err)
	}
	if len(records) == 0 {
		return "", nil
	}

	width := 0
	for _, record := range records {
		if len(record) > width {
			width = len(record)
		}
	}

	var b strings.Builder
	writeRow(&b, records[0], width)
	separator := make([]string, width)
	for i := range separator {
		separator[i] = "---"
	}
	writeRow(&b, separator, width)
	for _, record := range records[1:] {
		writeRow(&b, record, width)
	}
	return b.String(), nil
}

func writeRow(b *strings.Builder, cells []string, width int) {
	b.WriteString("|")
	for i := 0; i < width; i++ {
		cell := ""
		if i < len(cells) {
			cell = strings.ReplaceAll(cells[i], "|", "\\|")
			cell = strings.ReplaceAll(cell, "\n", " ")
		}
		b.WriteString(" ")
		b.WriteString(cell)
		b.WriteString(" |")
	}
	b.WriteString("\n")
}
