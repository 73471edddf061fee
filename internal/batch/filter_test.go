package batch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSizedFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFilterBySize(t *testing.T) {
	dir := t.TempDir()
	small := writeSizedFile(t, dir, "small.txt", 1*1024)
	medium := writeSizedFile(t, dir, "medium.txt", 10*1024*1024)
	// 100MB is simulated with a sparse-ish 60MB to keep the test light; it
	// still exceeds the 50MB ceiling.
	large := writeSizedFile(t, dir, "large.txt", 60*1024*1024)

	f, err := NewFileFilter(FilterOptions{
		MinSize: 5 * 1024 * 1024,
		MaxSize: 50 * 1024 * 1024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := f.Filter([]string{small, medium, large})
	if len(got) != 1 || got[0] != medium {
		t.Fatalf("expected only the 10MB file to pass, got %v", got)
	}
}

func TestFilterExtensionsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	upper := writeSizedFile(t, dir, "DOC.TXT", 1)
	other := writeSizedFile(t, dir, "doc.pdf", 1)

	f, err := NewFileFilter(FilterOptions{Extensions: []string{"txt", ".md"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.Matches(upper) {
		t.Fatal("expected .TXT to match a txt extension filter")
	}
	if f.Matches(other) {
		t.Fatal("expected .pdf to be rejected")
	}
}

func TestFilterExcludePathsCoversSubtrees(t *testing.T) {
	dir := t.TempDir()
	excluded := filepath.Join(dir, "skip")
	if err := os.MkdirAll(excluded, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	inside := writeSizedFile(t, excluded, "nested.txt", 1)
	outside := writeSizedFile(t, dir, "kept.txt", 1)

	f, err := NewFileFilter(FilterOptions{ExcludePaths: []string{excluded}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.Matches(inside) {
		t.Fatal("expected file under excluded dir to be rejected")
	}
	if !f.Matches(outside) {
		t.Fatal("expected sibling file to pass")
	}
}

func TestFilterNameAndExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	report := writeSizedFile(t, dir, "report-2024.txt", 1)
	draft := writeSizedFile(t, dir, "draft.txt", 1)
	backup := writeSizedFile(t, dir, "report-backup.txt", 1)

	f, err := NewFileFilter(FilterOptions{
		NamePattern:     `^report-`,
		ExcludePatterns: []string{`backup`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := f.Filter([]string{report, draft, backup})
	if len(got) != 1 || got[0] != report {
		t.Fatalf("expected only report-2024.txt, got %v", got)
	}
}

func TestFilterModTimeBounds(t *testing.T) {
	dir := t.TempDir()
	old := writeSizedFile(t, dir, "old.txt", 1)
	ancient := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, ancient, ancient); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := writeSizedFile(t, dir, "fresh.txt", 1)

	f, err := NewFileFilter(FilterOptions{MinModTime: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := f.Filter([]string{old, fresh})
	if len(got) != 1 || got[0] != fresh {
		t.Fatalf("expected only the fresh file, got %v", got)
	}
}

func TestFilterUnreadableFileExcluded(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.txt")

	f, err := NewFileFilter(FilterOptions{MinSize: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Matches(missing) {
		t.Fatal("expected missing file to be excluded, not an error")
	}

	// exclusion does not depend on which criteria are configured
	f, err = NewFileFilter(FilterOptions{Extensions: []string{".txt"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Matches(missing) {
		t.Fatal("expected missing file to be excluded by an extension-only filter")
	}

	f, err = NewFileFilter(FilterOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Matches(missing) {
		t.Fatal("expected missing file to be excluded by an empty filter")
	}
}

func TestFilterInvalidPattern(t *testing.T) {
	if _, err := NewFileFilter(FilterOptions{NamePattern: "("}); err == nil {
		t.Fatal("expected error for invalid name pattern")
	}
	if _, err := NewFileFilter(FilterOptions{ExcludePatterns: []string{"("}}); err == nil {
		t.Fatal("expected error for invalid exclude pattern")
	}
}
