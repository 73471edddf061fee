package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestTextPassthrough(t *testing.T) {
	path := writeFixture(t, "note.md", "# already markdown\n")

	got, err := (TextConverter{}).Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "# already markdown\n" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestTextMissingFile(t *testing.T) {
	if _, err := (TextConverter{}).Convert(context.Background(), "/no/such/file.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestHTMLToMarkdown(t *testing.T) {
	path := writeFixture(t, "page.html",
		"<html><body><h1>Title</h1><p>hello <strong>world</strong></p></body></html>")

	got, err := NewHTMLConverter().Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "# Title") {
		t.Fatalf("expected heading in output, got %q", got)
	}
	if !strings.Contains(got, "**world**") {
		t.Fatalf("expected bold text in output, got %q", got)
	}
}

func TestCSVToTable(t *testing.T) {
	path := writeFixture(t, "data.csv", "name,count\nwidget,3\npipe|cell,1\n")

	got, err := (CSVConverter{}).Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator and 2 rows, got %d lines:\n%s", len(lines), got)
	}
	if lines[0] != "| name | count |" {
		t.Fatalf("unexpected header row %q", lines[0])
	}
	if lines[1] != "| --- | --- |" {
		t.Fatalf("unexpected separator row %q", lines[1])
	}
	if !strings.Contains(lines[3], `pipe\|cell`) {
		t.Fatalf("expected pipe escaped in %q", lines[3])
	}
}

func TestCSVRaggedRows(t *testing.T) {
	path := writeFixture(t, "ragged.csv", "a,b,c\n1\n2,3\n")

	got, err := (CSVConverter{}).Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, line := range strings.Split(strings.TrimRight(got, "\n"), "\n") {
		if strings.Count(line, "|") != 4 {
			t.Fatalf("line %d not padded to table width: %q", i, line)
		}
	}
}

func TestCSVEmptyFile(t *testing.T) {
	path := writeFixture(t, "empty.csv", "")

	got, err := (CSVConverter{}).Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestDispatcherRoutesByExtension(t *testing.T) {
	d := NewDispatcher()

	path := writeFixture(t, "UPPER.TXT", "case insensitive")
	got, err := d.Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "case insensitive" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestDispatcherUnsupportedExtension(t *testing.T) {
	d := NewDispatcher()
	if _, err := d.Convert(context.Background(), "document.xyz"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestDispatcherRegisterOverrides(t *testing.T) {
	d := NewDispatcher()
	d.Register(&CSVConverter{}, "txt") // missing dot is normalized

	path := writeFixture(t, "override.txt", "x,y\n1,2\n")
	got, err := d.Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "| x | y |") {
		t.Fatalf("expected override to route to the CSV backend, got %q", got)
	}
}
