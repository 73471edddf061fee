// Command batch converts a directory of documents to Markdown in one shot,
// showing a progress bar while the batch runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"mdbatch/internal/batch"
	"mdbatch/internal/convert"
)

const pollInterval = 200 * time.Millisecond

func main() {
	inputDir := flag.String("in", ".", "directory to scan for documents")
	outputDir := flag.String("out", "output", "directory for converted Markdown")
	workers := flag.Int("workers", 4, "concurrent conversions")
	mode := flag.String("mode", "workers", "execution mode: workers, subprocess or serial")
	command := flag.String("command", "", "external converter for subprocess mode, e.g. \"markitdown\"")
	extensions := flag.String("ext", ".txt,.md,.html,.csv", "comma-separated allowed extensions")
	namePattern := flag.String("name", "", "regular expression the file name must match")
	minSize := flag.Int64("min-size", 0, "minimum file size in bytes")
	maxSize := flag.Int64("max-size", 0, "maximum file size in bytes")
	priority := flag.String("priority", "normal", "task priority: low, normal, high or urgent")
	verbose := flag.Bool("verbose", false, "log task-level progress")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		// keep the progress bar readable
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	filter, err := batch.NewFileFilter(batch.FilterOptions{
		Extensions:  splitList(*extensions),
		MinSize:     *minSize,
		MaxSize:     *maxSize,
		NamePattern: *namePattern,
	})
	if err != nil {
		fatalf("invalid filter: %v", err)
	}

	paths, err := discoverFiles(*inputDir)
	if err != nil {
		fatalf("scan %s: %v", *inputDir, err)
	}

	proc, err := buildProcessor(*workers, *mode, *command)
	if err != nil {
		fatalf("%v", err)
	}

	tasks := proc.AddFiles(paths, *outputDir, filter, batch.ParsePriority(*priority))
	if len(tasks) == 0 {
		fmt.Println("no matching files found")
		return
	}
	fmt.Printf("converting %d files with %d workers\n", len(tasks), *workers)

	proc.Start()
	waitWithProgress(proc)
	proc.Stop()

	stats := proc.Statistics()
	fmt.Printf("\ncompleted: %d  failed: %d  cancelled: %d  retries: %d\n",
		stats.CompletedTasks, stats.FailedTasks, stats.CancelledTasks, stats.RetryCount)
	fmt.Printf("success rate: %.1f%%  throughput: %.2f files/s  elapsed: %s\n",
		stats.SuccessRate(), stats.Throughput(), stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))

	for _, t := range proc.Tasks() {
		if t.Status == batch.StatusFailed {
			fmt.Printf("failed: %s (%s)\n", t.InputPath, t.ErrorMessage)
		}
	}
	if stats.FailedTasks > 0 {
		os.Exit(1)
	}
}

func buildProcessor(workers int, mode, command string) (*batch.Processor, error) {
	opts := batch.Options{
		Workers: workers,
		Mode:    batch.Mode(mode),
	}
	if opts.Mode == batch.ModeSubprocess {
		if command == "" {
			return nil, fmt.Errorf("subprocess mode requires -command")
		}
		opts.Command = strings.Fields(command)
	} else {
		dispatcher := convert.NewDispatcher()
		opts.Convert = func(ctx context.Context, inputPath, _ string) (string, error) {
			return dispatcher.Convert(ctx, inputPath)
		}
	}
	return batch.New(opts)
}

// discoverFiles walks root and returns every regular file.
func discoverFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// waitWithProgress polls statistics until every task reaches a terminal
// state, driving the progress bar from the completed counts.
func waitWithProgress(proc *batch.Processor) {
	stats := proc.Statistics()
	bar := progressbar.NewOptions(stats.TotalTasks,
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		stats = proc.Statistics()
		done := stats.CompletedTasks + stats.FailedTasks + stats.CancelledTasks
		_ = bar.Set(done)
		if done >= stats.TotalTasks {
			return
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
