package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSet struct {
	devices []Device
}

func (f fakeSet) Devices(context.Context) ([]Device, error) {
	return f.devices, nil
}

func (f fakeSet) Simulator(_ context.Context, udid string) (Simulator, error) {
	return nil, UnknownDeviceError(udid)
}

func TestAwaitReturnsValue(t *testing.T) {
	v, err := Await(context.Background(), time.Second, "value", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestAwaitTimesOut(t *testing.T) {
	_, err := Await(context.Background(), 20*time.Millisecond, "hid connect", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "hid connect", timeout.Op)
}

func TestAwaitIgnoringContextStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	err := AwaitErr(context.Background(), 20*time.Millisecond, "stuck", func(context.Context) error {
		<-release
		return nil
	})
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestAwaitParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := AwaitErr(ctx, time.Second, "cancelled", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestOpenWrapsBackendFailure(t *testing.T) {
	boom := errors.New("CoreSimulator not loaded")
	_, err := Open(context.Background(), Configuration{Backend: "broken"}, func(context.Context, Configuration) (DeviceSet, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrControlUnavailable))
	assert.True(t, errors.Is(err, boom))
}

func TestOpenIsNotMemoized(t *testing.T) {
	calls := 0
	opener := func(context.Context, Configuration) (DeviceSet, error) {
		calls++
		return fakeSet{}, nil
	}
	first, err := Open(context.Background(), Configuration{}, opener)
	require.NoError(t, err)
	second, err := Open(context.Background(), Configuration{}, opener)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotSame(t, first, second)
}

func TestControlSimulatorUnknown(t *testing.T) {
	control := NewControl(fakeSet{}, Configuration{})
	_, err := control.Simulator(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrUnknownDevice))

	_, err = control.Simulator(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrUnknownDevice))
}

func TestFirstBooted(t *testing.T) {
	control := NewControl(fakeSet{devices: []Device{
		{UDID: "a", State: StateShutdown},
		{UDID: "b", State: StateBooted},
	}}, Configuration{})
	d, err := control.FirstBooted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", d.UDID)

	empty := NewControl(fakeSet{}, Configuration{})
	_, err = empty.FirstBooted(context.Background())
	assert.True(t, errors.Is(err, ErrUnknownDevice))
}
