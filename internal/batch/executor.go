package batch

import (
	"context"
	"fmt"
	"sync"
)

// Mode selects the execution strategy for conversion work. Exactly one
// strategy is active per processor, chosen at construction.
type Mode string

const (
	// ModeWorkerPool runs conversions on a bounded pool of goroutines.
	ModeWorkerPool Mode = "workers"
	// ModeSubprocess runs each conversion as an external command, for CPU
	// isolation. Work is still admitted by a bounded pool.
	ModeSubprocess Mode = "subprocess"
	// ModeSerial runs conversions one at a time on a single dedicated
	// goroutine, for callbacks that must not run concurrently.
	ModeSerial Mode = "serial"
)

// completion is the result of one conversion attempt, posted back to the
// processor's coordinator.
type completion struct {
	task *Task
	text string
	err  error
}

type runFunc func(ctx context.Context, t *Task) (string, error)
type postFunc func(completion)

// executor submits conversion work without blocking the dispatch loop;
// completions are observed asynchronously through the post callback.
type executor interface {
	submit(ctx context.Context, t *Task)
	// shutdown waits for in-flight work to unwind. No submits may follow.
	shutdown()
}

func newExecutor(mode Mode, workers int, run runFunc, post postFunc) executor {
	if mode == ModeSerial {
		return newSerialExecutor(run, post)
	}
	return newPoolExecutor(workers, run, post)
}

// safeRun executes the conversion, converting panics into errors so a
// misbehaving callback cannot take down a worker.
func safeRun(ctx context.Context, run runFunc, t *Task) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return run(ctx, t)
}

// poolExecutor bounds concurrency with a semaphore channel; each submitted
// task runs on its own goroutine once a slot frees up.
type poolExecutor struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	run  runFunc
	post postFunc
}

func newPoolExecutor(workers int, run runFunc, post postFunc) *poolExecutor {
	return &poolExecutor{
		sem:  make(chan struct{}, workers),
		run:  run,
		post: post,
	}
}

func (e *poolExecutor) submit(ctx context.Context, t *Task) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			e.post(completion{task: t, err: ctx.Err()})
			return
		}
		defer func() { <-e.sem }()

		text, err := safeRun(ctx, e.run, t)
		e.post(completion{task: t, text: text, err: err})
	}()
}

func (e *poolExecutor) shutdown() {
	e.wg.Wait()
}

// serialExecutor consumes submissions from a single goroutine, preserving
// dispatch order and mutual exclusion between conversions.
type serialExecutor struct {
	jobs chan serialJob
	done chan struct{}
	run  runFunc
	post postFunc
}

type serialJob struct {
	ctx  context.Context
	task *Task
}

func newSerialExecutor(run runFunc, post postFunc) *serialExecutor {
	e := &serialExecutor{
		jobs: make(chan serialJob, 256),
		done: make(chan struct{}),
		run:  run,
		post: post,
	}
	go e.loop()
	return e
}

func (e *serialExecutor) loop() {
	defer close(e.done)
	for job := range e.jobs {
		text, err := safeRun(job.ctx, e.run, job.task)
		e.post(completion{task: job.task, text: text, err: err})
	}
}

func (e *serialExecutor) submit(ctx context.Context, t *Task) {
	select {
	case e.jobs <- serialJob{ctx: ctx, task: t}:
	case <-ctx.Done():
		e.post(completion{task: t, err: ctx.Err()})
	}
}

func (e *serialExecutor) shutdown() {
	close(e.jobs)
	<-e.done
}
