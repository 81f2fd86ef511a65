package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Step is one named stage of a Task.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Task runs a sequence of steps in the background. The first failing step
// aborts the rest; its error is kept and returned by Wait and Err.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	mu   sync.Mutex
	step string
	err  error
}

// StartTask launches steps on a goroutine. Cancelling ctx or calling Cancel
// stops the task before its next step, or during a step that honours ctx.
func StartTask(ctx context.Context, name string, logger *slog.Logger, steps []Step) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.With("task", name),
	}
	go t.run(ctx, steps)
	return t
}

func (t *Task) run(ctx context.Context, steps []Step) {
	defer close(t.done)
	defer t.cancel()

	for _, step := range steps {
		t.mu.Lock()
		t.step = step.Name
		t.mu.Unlock()

		if err := ctx.Err(); err != nil {
			t.finish(fmt.Errorf("%s: %s: %w", t.name, step.Name, err))
			return
		}
		t.logger.Debug("task step", "step", step.Name)
		if err := step.Run(ctx); err != nil {
			t.finish(fmt.Errorf("%s: %s: %w", t.name, step.Name, err))
			return
		}
	}
	t.mu.Lock()
	t.step = ""
	t.mu.Unlock()
	t.logger.Info("task completed")
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	if errors.Is(err, context.Canceled) {
		t.logger.Warn("task cancelled", "error", err)
		return
	}
	t.logger.Error("task failed", "error", err)
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the failure, if any, once the task has finished.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Step names the step in progress, or the failed step after a failure.
func (t *Task) Step() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step
}

// Cancel requests the task to stop.
func (t *Task) Cancel() {
	t.cancel()
}
