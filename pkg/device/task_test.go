package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRunsStepsInOrder(t *testing.T) {
	var order []string
	step := func(name string) Step {
		return Step{Name: name, Run: func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}
	task := StartTask(context.Background(), "demo", nil, []Step{step("one"), step("two")})
	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, []string{"one", "two"}, order)
	assert.Empty(t, task.Step())
}

func TestTaskStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	task := StartTask(context.Background(), "demo", nil, []Step{
		{Name: "fails", Run: func(context.Context) error { return boom }},
		{Name: "skipped", Run: func(context.Context) error { ran = true; return nil }},
	})
	err := task.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "demo: fails")
	assert.Equal(t, "fails", task.Step())
	assert.False(t, ran)
}

func TestTaskHonoursParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := StartTask(ctx, "demo", nil, []Step{
		{Name: "block", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatalf("task did not observe cancellation")
	}
	assert.ErrorIs(t, task.Err(), context.Canceled)
}

func TestTaskWaitTimesOutIndependently(t *testing.T) {
	release := make(chan struct{})
	task := StartTask(context.Background(), "demo", nil, []Step{
		{Name: "block", Run: func(context.Context) error { <-release; return nil }},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, task.Wait(context.Background()))
}
