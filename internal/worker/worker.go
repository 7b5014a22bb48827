// Package worker provides the poll-loop scaffolding shared by the reader
// and the discovery resolver: a main step on a fixed interval plus optional
// periodic side tasks, with context cancellation handled in one place.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PeriodicTask runs alongside the main step at its own, longer interval.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
	lastRun  time.Time
}

// Config describes one worker loop.
type Config struct {
	// Name identifies the worker in logs.
	Name string

	// PollInterval is the pause between iterations.
	PollInterval time.Duration

	// Process does the main work of one iteration. Errors are logged and
	// the loop continues, except context errors which stop it.
	Process func(ctx context.Context) error

	// PeriodicTasks run before the main step whenever they are due.
	PeriodicTasks []PeriodicTask

	Logger *zerolog.Logger
}

// Loop runs the worker until the context ends. It returns ctx.Err()
// wrapped with the worker name.
func Loop(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	logger.Info().Str("worker", cfg.Name).Msg("starting worker loop")

	defer logger.Info().Str("worker", cfg.Name).Msg("worker loop stopped")

	tasks := make([]PeriodicTask, len(cfg.PeriodicTasks))
	copy(tasks, cfg.PeriodicTasks)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("worker loop %s: %w", cfg.Name, ctx.Err())
		default:
		}

		runDueTasks(ctx, tasks, logger)

		if cfg.Process != nil {
			if err := cfg.Process(ctx); err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("worker loop %s: %w", cfg.Name, ctx.Err())
				}

				logger.Error().Err(err).Str("worker", cfg.Name).Msg("process error")
			}
		}

		if err := Wait(ctx, cfg.PollInterval); err != nil {
			return err
		}
	}
}

func runDueTasks(ctx context.Context, tasks []PeriodicTask, logger *zerolog.Logger) {
	now := time.Now()

	for i := range tasks {
		task := &tasks[i]
		if task.Interval <= 0 || task.Run == nil {
			continue
		}

		if now.Sub(task.lastRun) >= task.Interval {
			logger.Debug().Str("task", task.Name).Msg("running periodic task")
			task.Run(ctx)
			task.lastRun = now
		}
	}
}

// Wait blocks for d or until the context is canceled.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
