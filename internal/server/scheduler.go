package server

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enricher/internal/model"
)

// Schedules holds standard five-field cron expressions. An empty expression
// disables that job's schedule.
type Schedules struct {
	Scan      string
	Reconcile string
	// Timeout bounds each scheduled run. Zero means no bound.
	Timeout time.Duration
}

// Scheduler triggers jobs on cron schedules through a Runner.
type Scheduler struct {
	runner  *Runner
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler registers the configured schedules.
func NewScheduler(runner *Runner, s Schedules) (*Scheduler, error) {
	sch := &Scheduler{runner: runner, cron: cron.New(), timeout: s.Timeout}
	for _, job := range []struct {
		kind model.RunKind
		spec string
	}{
		{model.RunKindScan, s.Scan},
		{model.RunKindReconcile, s.Reconcile},
	} {
		kind, spec := job.kind, job.spec
		if spec == "" {
			continue
		}
		if _, err := sch.cron.AddFunc(spec, func() { sch.trigger(kind) }); err != nil {
			return nil, eris.Wrapf(err, "server: schedule %s %q", kind, spec)
		}
		zap.L().Info("server: job scheduled", zap.String("kind", string(kind)), zap.String("schedule", spec))
	}
	return sch, nil
}

// Entries returns the number of registered schedules.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing schedules and waits for a running scheduled job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) trigger(kind model.RunKind) {
	ctx := s.runner.base
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	_, err := s.runner.Run(ctx, kind)
	switch {
	case errors.Is(err, ErrBusy):
		zap.L().Warn("server: scheduled job skipped, another job is running", zap.String("kind", string(kind)))
	case err != nil:
		zap.L().Error("server: scheduled job failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}
