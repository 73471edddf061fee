// Package archive bundles converted Markdown results into a zip for bulk
// download.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"mdbatch/internal/batch"
)

// Result describes the outcome of writing a single task into the zip.
type Result struct {
	Filename string
	Err      string
}

// WriteResults writes one zip entry per completed task into w. It always
// returns a results slice of the same length as tasks; tasks whose content
// could not be obtained get Result.Err set and are omitted from the archive.
func WriteResults(w io.Writer, tasks []batch.Task) ([]Result, error) {
	if len(tasks) == 0 {
		return nil, errors.New("no completed tasks")
	}

	zipWriter := zip.NewWriter(w)
	seen := make(map[string]int, len(tasks))

	results := make([]Result, len(tasks))
	for i, t := range tasks {
		results[i] = writeEntry(zipWriter, t, seen)
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	return results, nil
}

// writeEntry adds one task's Markdown to the archive, returning the Result.
func writeEntry(zipWriter *zip.Writer, t batch.Task, seen map[string]int) Result {
	filename := uniqueName(deriveFilename(t), seen)
	result := Result{Filename: filename}

	content, err := resultContent(t)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("task_id", t.ID).Err(err).Msg("result content unavailable")
		return result
	}

	entryWriter, err := zipWriter.Create(filename)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("task_id", t.ID).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := entryWriter.Write([]byte(content)); err != nil {
		result.Err = err.Error()
		log.Warn().Str("task_id", t.ID).Err(err).Msg("write into zip failed")
		return result
	}
	return result
}

// resultContent prefers the in-memory result and falls back to the persisted
// output file.
func resultContent(t batch.Task) (string, error) {
	if t.ResultText != "" {
		return t.ResultText, nil
	}
	if t.OutputPath == "" {
		return "", errors.New("no result available")
	}
	data, err := os.ReadFile(t.OutputPath) //nolint:gosec // path derived from the task's own output
	if err != nil {
		return "", fmt.Errorf("read output: %w", err)
	}
	return string(data), nil
}

// deriveFilename names the entry after the output file, or after the input
// with a .md extension when no output path was set.
func deriveFilename(t batch.Task) string {
	if t.OutputPath != "" {
		return filepath.Base(t.OutputPath)
	}
	base := filepath.Base(t.InputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "result.md"
	}
	return stem + ".md"
}

// uniqueName disambiguates colliding entry names with a numeric suffix.
func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
