package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsProcessUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var iterations atomic.Int64

	logger := zerolog.Nop()

	err := Loop(ctx, Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Process: func(context.Context) error {
			if iterations.Add(1) >= 3 {
				cancel()
			}

			return nil
		},
		Logger: &logger,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.GreaterOrEqual(t, iterations.Load(), int64(3))
}

func TestLoopContinuesAfterProcessError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var iterations atomic.Int64

	logger := zerolog.Nop()

	err := Loop(ctx, Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Process: func(context.Context) error {
			if iterations.Add(1) >= 2 {
				cancel()
			}

			return errors.New("transient")
		},
		Logger: &logger,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.GreaterOrEqual(t, iterations.Load(), int64(2))
}

func TestLoopRunsDuePeriodicTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var taskRuns, iterations atomic.Int64

	logger := zerolog.Nop()

	err := Loop(ctx, Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Process: func(context.Context) error {
			if iterations.Add(1) >= 5 {
				cancel()
			}

			return nil
		},
		PeriodicTasks: []PeriodicTask{
			{
				Name:     "always-due",
				Interval: time.Nanosecond,
				Run:      func(context.Context) { taskRuns.Add(1) },
			},
			{
				Name:     "never-due",
				Interval: time.Hour,
				Run:      func(context.Context) { taskRuns.Add(100) },
			},
		},
		Logger: &logger,
	})

	require.Error(t, err)
	// The hour-interval task fires once on the first pass, then waits.
	assert.GreaterOrEqual(t, taskRuns.Load(), int64(5+100))
	assert.Less(t, taskRuns.Load(), int64(200))
}

func TestWaitReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, time.Hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWaitZeroDuration(t *testing.T) {
	require.NoError(t, Wait(context.Background(), 0))
}
