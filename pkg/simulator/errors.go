package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownDevice is returned when no simulator matches a UDID.
	ErrUnknownDevice = errors.New("simulator: unknown device")
	// ErrTimeout is matched by every bounded call that ran out of time.
	ErrTimeout = errors.New("simulator: operation timed out")
	// ErrControlUnavailable wraps failures to open a device set.
	ErrControlUnavailable = errors.New("simulator: device control unavailable")
)

// TimeoutError reports which bounded call expired.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("simulator: %s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

// UnknownDeviceError names the UDID that failed to resolve.
func UnknownDeviceError(udid string) error {
	return fmt.Errorf("%w: %q", ErrUnknownDevice, udid)
}

// Await runs fn with a deadline of timeout. Expiry yields a *TimeoutError; a
// cancelled parent context yields its error unchanged. fn keeps running in the
// background when abandoned and must honour its context.
func Await[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &TimeoutError{Op: op, After: timeout}
		}
		return out.value, out.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &TimeoutError{Op: op, After: timeout}
	}
}

// AwaitErr is Await for calls without a result.
func AwaitErr(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	_, err := Await(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
