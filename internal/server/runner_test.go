package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enricher/internal/model"
)

// blockingJob runs until release is closed and reports when it has started.
func blockingJob(kind model.RunKind) (Job, chan struct{}, chan struct{}) {
	started := make(chan struct{})
	release := make(chan struct{})
	job := func(ctx context.Context) (*model.Run, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &model.Run{Kind: kind}, nil
	}
	return job, started, release
}

func okJob(kind model.RunKind) Job {
	return func(context.Context) (*model.Run, error) {
		return &model.Run{Kind: kind}, nil
	}
}

func TestRunner_Run(t *testing.T) {
	r := NewRunner(context.Background(), map[model.RunKind]Job{model.RunKindScan: okJob(model.RunKindScan)})

	run, err := r.Run(context.Background(), model.RunKindScan)
	require.NoError(t, err)
	assert.Equal(t, model.RunKindScan, run.Kind)
	assert.Empty(t, r.Running())
}

func TestRunner_UnknownJob(t *testing.T) {
	r := NewRunner(context.Background(), nil)
	_, err := r.Run(context.Background(), model.RunKindScan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestRunner_BusyWhileJobRuns(t *testing.T) {
	scan, started, release := blockingJob(model.RunKindScan)
	r := NewRunner(context.Background(), map[model.RunKind]Job{
		model.RunKindScan:      scan,
		model.RunKindReconcile: okJob(model.RunKindReconcile),
	})

	require.NoError(t, r.Start(model.RunKindScan))
	<-started
	assert.Equal(t, model.RunKindScan, r.Running())

	_, err := r.Run(context.Background(), model.RunKindReconcile)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.True(t, errors.Is(r.Start(model.RunKindScan), ErrBusy))

	close(release)
	r.Wait()
	assert.Empty(t, r.Running())

	_, err = r.Run(context.Background(), model.RunKindReconcile)
	assert.NoError(t, err)
}

func TestRunner_ReleasesAfterFailure(t *testing.T) {
	r := NewRunner(context.Background(), map[model.RunKind]Job{
		model.RunKindReconcile: func(context.Context) (*model.Run, error) {
			return nil, errors.New("bullhorn: session login failed")
		},
	})

	require.NoError(t, r.Start(model.RunKindReconcile))
	r.Wait()
	assert.Empty(t, r.Running())
}

func TestRunner_BaseContextCancelsBackgroundJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scan, started, _ := blockingJob(model.RunKindScan)
	r := NewRunner(ctx, map[model.RunKind]Job{model.RunKindScan: scan})

	require.NoError(t, r.Start(model.RunKindScan))
	<-started
	cancel()
	r.Wait()
	assert.Empty(t, r.Running())
}
