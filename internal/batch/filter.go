package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FilterOptions describes file selection criteria. Zero-valued fields are
// unset and match everything.
type FilterOptions struct {
	// Extensions allows only the listed suffixes, compared case-insensitively.
	// Entries may omit the leading dot.
	Extensions []string
	// MinSize / MaxSize bound the file size in bytes; 0 means unbounded.
	MinSize int64
	MaxSize int64
	// MinModTime / MaxModTime bound the modification time.
	MinModTime time.Time
	MaxModTime time.Time
	// NamePattern is a regular expression matched against the base name.
	NamePattern string
	// ExcludePaths rejects the listed paths and anything under them.
	ExcludePaths []string
	// ExcludePatterns are regular expressions matched against the full path.
	ExcludePatterns []string
}

// FileFilter is an immutable predicate over filesystem entries. A file
// matches when it passes every configured criterion; unreadable files never
// match.
type FileFilter struct {
	extensions      map[string]struct{}
	minSize         int64
	maxSize         int64
	minModTime      time.Time
	maxModTime      time.Time
	namePattern     *regexp.Regexp
	excludePaths    []string
	excludePatterns []*regexp.Regexp
}

// NewFileFilter builds a filter from the given criteria. It returns an error
// when a pattern does not compile.
func NewFileFilter(opts FilterOptions) (*FileFilter, error) {
	f := &FileFilter{
		extensions: normalizeExtensions(opts.Extensions),
		minSize:    opts.MinSize,
		maxSize:    opts.MaxSize,
		minModTime: opts.MinModTime,
		maxModTime: opts.MaxModTime,
	}
	if opts.NamePattern != "" {
		re, err := regexp.Compile(opts.NamePattern)
		if err != nil {
			return nil, fmt.Errorf("name pattern: %w", err)
		}
		f.namePattern = re
	}
	for _, p := range opts.ExcludePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		f.excludePaths = append(f.excludePaths, abs)
	}
	for _, p := range opts.ExcludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		f.excludePatterns = append(f.excludePatterns, re)
	}
	return f, nil
}

// Matches reports whether the file at path passes every criterion.
// Unreadable files never match, whatever criteria are set.
func (f *FileFilter) Matches(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// unreadable files are excluded, not an error
		return false
	}

	if len(f.extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := f.extensions[ext]; !ok {
			return false
		}
	}

	if f.minSize > 0 && info.Size() < f.minSize {
		return false
	}
	if f.maxSize > 0 && info.Size() > f.maxSize {
		return false
	}
	mod := info.ModTime()
	if !f.minModTime.IsZero() && mod.Before(f.minModTime) {
		return false
	}
	if !f.maxModTime.IsZero() && mod.After(f.maxModTime) {
		return false
	}

	if f.namePattern != nil && !f.namePattern.MatchString(filepath.Base(path)) {
		return false
	}

	if len(f.excludePaths) > 0 {
		abs, err := filepath.Abs(path)
		if err == nil {
			for _, excluded := range f.excludePaths {
				if abs == excluded || strings.HasPrefix(abs, excluded+string(filepath.Separator)) {
					return false
				}
			}
		}
	}

	for _, re := range f.excludePatterns {
		if re.MatchString(path) {
			return false
		}
	}

	return true
}

// Filter returns the paths that match, preserving input order.
func (f *FileFilter) Filter(paths []string) []string {
	matched := make([]string, 0, len(paths))
	for _, p := range paths {
		if f.Matches(p) {
			matched = append(matched, p)
		}
	}
	return matched
}

func normalizeExtensions(in []string) map[string]struct{} {
	normalized := make(map[string]struct{}, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		normalized[e] = struct{}{}
	}
	return normalized
}
