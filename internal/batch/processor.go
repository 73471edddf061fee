// Package batch implements the batch conversion scheduler: a priority task
// queue, a bounded execution strategy, retry with exponential backoff,
// duplicate suppression and live statistics. The conversion itself is an
// opaque operation supplied at construction.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mdbatch/internal/events"
	fileutil "mdbatch/internal/file"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// popTimeout bounds the dispatch loop's queue wait so it stays
	// responsive to pause, cancel and shutdown.
	popTimeout = 250 * time.Millisecond

	// workTimeout is the wall-clock ceiling for one submitted conversion.
	// A conversion running past it fails and becomes eligible for retry.
	workTimeout = 5 * time.Minute

	defaultWorkers = 4
)

// retryBaseDelay scales the exponential backoff between retry attempts
// (2^retry_count * retryBaseDelay). Tests shrink this to avoid real sleeps.
var retryBaseDelay = time.Second

// ConvertFunc converts one input file to Markdown text. outputPath is
// advisory; the processor persists the returned text itself.
type ConvertFunc func(ctx context.Context, inputPath, outputPath string) (string, error)

// Options configures a Processor. Exactly one conversion source is required:
// Convert for ModeWorkerPool and ModeSerial, Command for ModeSubprocess.
type Options struct {
	// Workers bounds concurrent conversions. Defaults to 4; ignored by
	// ModeSerial.
	Workers int
	// Mode selects the execution strategy. Defaults to ModeWorkerPool.
	Mode Mode
	// Convert performs one conversion in-process.
	Convert ConvertFunc
	// Command is the external conversion command for ModeSubprocess; the
	// input path is appended as the final argument and stdout is the result.
	Command []string
	// Events receives lifecycle notifications; may be nil.
	Events *events.Bus
	// OnFinished is invoked with a snapshot of every task reaching a
	// terminal state; may be nil.
	OnFinished func(Task)
}

var (
	ErrNoConversion = errors.New("no conversion function provided")
	ErrNoCommand    = errors.New("no conversion command provided")
)

// Processor schedules batch conversions. It owns the priority queue, the
// execution strategy, the task table and the statistics; all completion
// handling is funneled through a single coordinator goroutine.
type Processor struct {
	opts  Options
	queue *taskQueue
	gate  *pauseGate

	mu           sync.Mutex
	tasks        map[string]*Task
	order        []string
	fingerprints map[string]struct{}
	stats        Statistics
	cancels      map[string]context.CancelFunc
	retryTimers  map[string]*time.Timer
	running      bool
	cancelled    bool

	exec         executor
	completions  chan completion
	baseCtx      context.Context
	baseCancel   context.CancelFunc
	dispatchDone chan struct{}
	coordDone    chan struct{}
}

// New validates the options and builds a stopped processor.
func New(opts Options) (*Processor, error) {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Mode == "" {
		opts.Mode = ModeWorkerPool
	}
	switch opts.Mode {
	case ModeWorkerPool, ModeSerial:
		if opts.Convert == nil {
			return nil, ErrNoConversion
		}
	case ModeSubprocess:
		if len(opts.Command) == 0 {
			return nil, ErrNoCommand
		}
	default:
		return nil, fmt.Errorf("unknown execution mode %q", opts.Mode)
	}

	p := &Processor{
		opts:         opts,
		queue:        newTaskQueue(),
		gate:         newPauseGate(),
		tasks:        make(map[string]*Task),
		fingerprints: make(map[string]struct{}),
		stats:        newStatistics(),
		cancels:      make(map[string]context.CancelFunc),
		retryTimers:  make(map[string]*time.Timer),
	}
	log.Info().
		Int("workers", opts.Workers).
		Str("mode", string(opts.Mode)).
		Msg("batch processor initialized")
	return p, nil
}

// AddTask fingerprints the input, suppresses duplicates and enqueues the
// task. Duplicates come back already cancelled (error "Duplicate file") and
// still count toward the totals. maxRetries < 0 selects DefaultMaxRetries.
func (p *Processor) AddTask(inputPath, outputPath string, priority Priority, maxRetries int) Task {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	t := &Task{
		ID:         uuid.NewString(),
		InputPath:  inputPath,
		OutputPath: outputPath,
		Priority:   priority,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
	if fp, err := fingerprintFile(inputPath); err != nil {
		// duplicate detection is skipped for this task, admission proceeds
		log.Warn().Str("input", inputPath).Err(err).Msg("fingerprint failed")
	} else {
		t.Fingerprint = fp
	}

	p.mu.Lock()
	p.tasks[t.ID] = t
	p.order = append(p.order, t.ID)
	p.stats.TotalTasks++

	if t.Fingerprint != "" {
		if _, dup := p.fingerprints[t.Fingerprint]; dup {
			t.Status = StatusCancelled
			t.ErrorMessage = "Duplicate file"
			p.stats.CancelledTasks++
			p.stats.ByStatus[StatusCancelled]++
			snapshot := *t
			p.mu.Unlock()
			log.Debug().Str("input", inputPath).Msg("duplicate file detected")
			return snapshot
		}
		p.fingerprints[t.Fingerprint] = struct{}{}
	}

	t.Status = StatusQueued
	p.stats.ByStatus[StatusQueued]++
	p.queue.Push(t)
	snapshot := *t
	p.mu.Unlock()

	p.emit(events.Event{Type: events.TaskStarted, TaskID: snapshot.ID, InputPath: inputPath})
	log.Info().
		Str("task_id", snapshot.ID).
		Str("input", inputPath).
		Str("priority", priority.String()).
		Msg("task queued")
	return snapshot
}

// AddFiles filters the paths (filter may be nil) and enqueues one task per
// survivor. When outputDir is set, each output path is derived as
// outputDir/<stem>.md.
func (p *Processor) AddFiles(paths []string, outputDir string, filter *FileFilter, priority Priority) []Task {
	if filter != nil {
		paths = filter.Filter(paths)
	}
	tasks := make([]Task, 0, len(paths))
	for _, path := range paths {
		output := ""
		if outputDir != "" {
			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			output = filepath.Join(outputDir, stem+".md")
		}
		tasks = append(tasks, p.AddTask(path, output, priority, DefaultMaxRetries))
	}
	return tasks
}

// Start launches the execution strategy, the coordinator and the dispatch
// loop. Calling Start on a running processor is a no-op.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		log.Warn().Msg("batch processor already running")
		return
	}
	p.running = true
	p.cancelled = false
	p.stats.StartTime = time.Now()
	p.stats.EndTime = time.Time{}

	p.baseCtx, p.baseCancel = context.WithCancel(context.Background())
	p.completions = make(chan completion, p.opts.Workers*2)
	p.exec = newExecutor(p.opts.Mode, p.opts.Workers, p.runForMode(), p.postCompletion)
	p.dispatchDone = make(chan struct{})
	p.coordDone = make(chan struct{})
	p.mu.Unlock()

	go p.coordinate()
	go p.dispatch()

	p.emit(events.Event{Type: events.BatchStarted})
	log.Info().Msg("batch processor started")
}

// Pause closes the dispatch gate. Tasks already handed to the execution
// strategy run to completion; only new dispatch stops.
func (p *Processor) Pause() {
	p.gate.Pause()
	log.Info().Msg("batch processing paused")
}

// Resume reopens the dispatch gate.
func (p *Processor) Resume() {
	p.gate.Resume()
	log.Info().Msg("batch processing resumed")
}

// Paused reports whether the dispatch gate is closed.
func (p *Processor) Paused() bool { return p.gate.Paused() }

// Running reports whether Start has been called without a matching Stop.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// CancelTask cancels one queued, retrying or in-flight task. It reports
// whether a task was found in a cancellable state.
func (p *Processor) CancelTask(taskID string) bool {
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	cancelled := p.cancelLocked(t)
	var snapshot Task
	if cancelled {
		snapshot = *t
	}
	p.mu.Unlock()

	if cancelled {
		p.emit(events.Event{Type: events.TaskCancelled, TaskID: snapshot.ID, InputPath: snapshot.InputPath})
		p.finished(snapshot)
		log.Info().Str("task_id", taskID).Msg("task cancelled")
	}
	return cancelled
}

// CancelAll sets the sticky global cancellation flag, cancels every queued,
// retrying and in-flight task, and drains the queue. Running conversions are
// interrupted through their contexts; results arriving afterwards are
// discarded. Calling it again is a no-op.
func (p *Processor) CancelAll() {
	p.mu.Lock()
	p.cancelled = true
	var snapshots []Task
	for _, id := range p.order {
		t := p.tasks[id]
		if p.cancelLocked(t) {
			snapshots = append(snapshots, *t)
		}
	}
	p.mu.Unlock()

	p.queue.Drain()
	for _, s := range snapshots {
		p.emit(events.Event{Type: events.TaskCancelled, TaskID: s.ID, InputPath: s.InputPath})
		p.finished(s)
	}
	if len(snapshots) > 0 {
		log.Info().Int("count", len(snapshots)).Msg("all tasks cancelled")
	}
}

// Stop cancels outstanding work, waits for in-flight conversions to unwind,
// joins the dispatch and coordinator goroutines and records the end time.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.CancelAll()
	p.baseCancel() // also unblocks a paused dispatch loop
	<-p.dispatchDone
	p.exec.shutdown()
	close(p.completions)
	<-p.coordDone

	p.mu.Lock()
	p.stats.EndTime = time.Now()
	p.mu.Unlock()

	p.emit(events.Event{Type: events.BatchStopped})
	log.Info().Msg("batch processor stopped")
}

// Statistics returns a point-in-time copy of the counters.
func (p *Processor) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.clone()
}

// Task returns a snapshot of one task by ID.
func (p *Processor) Task(taskID string) (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tasks[taskID]; ok {
		return *t, true
	}
	return Task{}, false
}

// Tasks returns snapshots of every task in admission order.
func (p *Processor) Tasks() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.tasks[id])
	}
	return out
}

// dispatch is the admission loop: wait on the pause gate, pop the next task,
// mark it processing and hand it to the execution strategy. It never blocks
// on conversion work itself.
func (p *Processor) dispatch() {
	defer close(p.dispatchDone)
	for {
		if !p.Running() {
			return
		}
		select {
		case <-p.gate.Resumed():
		case <-p.baseCtx.Done():
			return
		}

		t, ok := p.queue.Pop(popTimeout)
		if !ok {
			continue
		}

		p.mu.Lock()
		if p.cancelled {
			p.mu.Unlock()
			return
		}
		if t.Status != StatusQueued {
			// cancelled (or already re-queued) while waiting; skip
			p.mu.Unlock()
			continue
		}
		t.Status = StatusProcessing
		t.StartedAt = time.Now()
		p.stats.ByStatus[StatusQueued]--
		p.stats.ByStatus[StatusProcessing]++
		ctx, cancel := context.WithTimeout(p.baseCtx, workTimeout)
		p.cancels[t.ID] = cancel
		p.mu.Unlock()

		p.exec.submit(ctx, t)
	}
}

func (p *Processor) postCompletion(c completion) {
	p.completions <- c
}

// coordinate serializes all completion handling; it is the only writer of
// completion-driven task and statistics state.
func (p *Processor) coordinate() {
	defer close(p.coordDone)
	for c := range p.completions {
		p.handleCompletion(c)
	}
}

func (p *Processor) handleCompletion(c completion) {
	t := c.task

	p.mu.Lock()
	if cancel, ok := p.cancels[t.ID]; ok {
		cancel()
		delete(p.cancels, t.ID)
	}

	// Cancellation takes precedence: a result arriving for an already
	// cancelled task is discarded, its bookkeeping happened at cancel time.
	if t.Status == StatusCancelled {
		p.mu.Unlock()
		return
	}

	if errors.Is(c.err, context.Canceled) {
		p.stats.ByStatus[t.Status]--
		t.Status = StatusCancelled
		p.stats.CancelledTasks++
		p.stats.ByStatus[StatusCancelled]++
		snapshot := *t
		p.mu.Unlock()
		p.emit(events.Event{Type: events.TaskCancelled, TaskID: snapshot.ID, InputPath: snapshot.InputPath})
		p.finished(snapshot)
		return
	}

	if c.err == nil {
		// persist before the task counts as completed: once the statistics
		// include it, the output file must exist. Write failure is logged and
		// does not demote the completion.
		if t.OutputPath != "" {
			if err := fileutil.WriteTextAtomic(t.OutputPath, c.text); err != nil {
				log.Error().Str("task_id", t.ID).Str("output", t.OutputPath).Err(err).Msg("failed to save result")
			}
		}
		t.Status = StatusCompleted
		t.ResultText = c.text
		t.CompletedAt = time.Now()
		p.stats.CompletedTasks++
		p.stats.ByStatus[StatusProcessing]--
		p.stats.ByStatus[StatusCompleted]++
		snapshot := *t
		p.mu.Unlock()

		p.emit(events.Event{Type: events.TaskCompleted, TaskID: snapshot.ID, InputPath: snapshot.InputPath})
		p.finished(snapshot)
		return
	}

	if t.RetryCount < t.MaxRetries && !p.cancelled {
		t.RetryCount++
		t.Status = StatusRetrying
		p.stats.RetryCount++
		p.stats.ByStatus[StatusProcessing]--
		p.stats.ByStatus[StatusRetrying]++
		delay := time.Duration(1<<uint(t.RetryCount)) * retryBaseDelay
		id := t.ID
		p.retryTimers[id] = time.AfterFunc(delay, func() { p.requeue(id) })
		attempt, budget := t.RetryCount, t.MaxRetries
		p.mu.Unlock()

		log.Info().
			Str("task_id", id).
			Int("attempt", attempt).
			Int("max_retries", budget).
			Dur("delay", delay).
			Err(c.err).
			Msg("retrying task")
		return
	}

	t.Status = StatusFailed
	t.ErrorMessage = c.err.Error()
	t.CompletedAt = time.Now()
	p.stats.FailedTasks++
	p.stats.ByStatus[StatusProcessing]--
	p.stats.ByStatus[StatusFailed]++
	snapshot := *t
	p.mu.Unlock()

	log.Error().Str("task_id", snapshot.ID).Str("input", snapshot.InputPath).Err(c.err).Msg("task failed")
	p.emit(events.Event{Type: events.TaskFailed, TaskID: snapshot.ID, Error: snapshot.ErrorMessage})
	p.finished(snapshot)
}

// requeue fires when a retry backoff elapses. The task re-enters the queue
// unless it was cancelled in the meantime.
func (p *Processor) requeue(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.retryTimers, taskID)
	t, ok := p.tasks[taskID]
	if !ok || p.cancelled || t.Status != StatusRetrying {
		return
	}
	t.Status = StatusQueued
	p.stats.ByStatus[StatusRetrying]--
	p.stats.ByStatus[StatusQueued]++
	p.queue.Push(t)
}

// cancelLocked transitions a cancellable task to CANCELLED, stopping its
// retry timer and interrupting its in-flight context. Caller holds p.mu.
func (p *Processor) cancelLocked(t *Task) bool {
	switch t.Status {
	case StatusQueued, StatusProcessing, StatusRetrying:
	default:
		return false
	}
	if timer, ok := p.retryTimers[t.ID]; ok {
		timer.Stop()
		delete(p.retryTimers, t.ID)
	}
	if cancel, ok := p.cancels[t.ID]; ok {
		cancel()
		delete(p.cancels, t.ID)
	}
	p.stats.ByStatus[t.Status]--
	t.Status = StatusCancelled
	p.stats.CancelledTasks++
	p.stats.ByStatus[StatusCancelled]++
	return true
}

func (p *Processor) runForMode() runFunc {
	if p.opts.Mode == ModeSubprocess {
		return p.runCommand
	}
	return func(ctx context.Context, t *Task) (string, error) {
		return p.opts.Convert(ctx, t.InputPath, t.OutputPath)
	}
}

// runCommand executes the configured external converter with the input path
// appended, capturing stdout as the result text.
func (p *Processor) runCommand(ctx context.Context, t *Task) (string, error) {
	args := make([]string, 0, len(p.opts.Command))
	args = append(args, p.opts.Command[1:]...)
	args = append(args, t.InputPath)

	cmd := exec.CommandContext(ctx, p.opts.Command[0], args...) //nolint:gosec // command comes from configuration
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if msg := firstLine(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", p.opts.Command[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", p.opts.Command[0], err)
	}
	return stdout.String(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func (p *Processor) emit(e events.Event) {
	p.opts.Events.Emit(e)
}

// finished delivers a terminal-task snapshot to the configured hook. Hook
// panics are contained; nothing escapes the completion boundary.
func (p *Processor) finished(t Task) {
	if p.opts.OnFinished == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", t.ID).Interface("panic", r).Msg("finished hook panicked")
		}
	}()
	p.opts.OnFinished(t)
}

// pauseGate is the dispatch gate: Resumed returns a channel that is closed
// while dispatch may proceed and open (blocking) while paused.
type pauseGate struct {
	mu     sync.Mutex
	ch     chan struct{}
	paused bool
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{ch: ch}
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.ch = make(chan struct{})
	}
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.ch)
	}
}

func (g *pauseGate) Resumed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}
