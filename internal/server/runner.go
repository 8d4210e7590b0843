// Package server exposes the scan and reconcile jobs over HTTP and on cron
// schedules.
package server

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enricher/internal/model"
)

// ErrBusy is returned when a job is triggered while another one runs.
var ErrBusy = eris.New("server: a job is already running")

// Job runs one job to completion.
type Job func(ctx context.Context) (*model.Run, error)

// Runner serializes jobs so that no two run against the store at once.
type Runner struct {
	base context.Context
	jobs map[model.RunKind]Job

	mu      sync.Mutex
	running model.RunKind
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. Jobs started with Start run under base, so
// cancelling base stops them.
func NewRunner(base context.Context, jobs map[model.RunKind]Job) *Runner {
	return &Runner{base: base, jobs: jobs}
}

// Running returns the kind of the job in progress, or "" when idle.
func (r *Runner) Running() model.RunKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run executes kind synchronously. It returns ErrBusy without running
// anything if another job holds the runner.
func (r *Runner) Run(ctx context.Context, kind model.RunKind) (*model.Run, error) {
	job, err := r.acquire(kind)
	if err != nil {
		return nil, err
	}
	defer r.release()
	return job(ctx)
}

// Start executes kind in the background and returns once it has the
// runner.
func (r *Runner) Start(kind model.RunKind) error {
	job, err := r.acquire(kind)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		if _, err := job(r.base); err != nil {
			zap.L().Error("server: job failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until background jobs finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) acquire(kind model.RunKind) (Job, error) {
	job, ok := r.jobs[kind]
	if !ok {
		return nil, eris.Errorf("server: unknown job %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running != "" {
		return nil, ErrBusy
	}
	r.running = kind
	return job, nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = ""
	r.mu.Unlock()
}
