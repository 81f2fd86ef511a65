package synthetic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/simdrive/pkg/accessibility"
	"github.com/offlinefirst/simdrive/pkg/pixel"
	"github.com/offlinefirst/simdrive/pkg/simulator"
)

type collector struct {
	mu     sync.Mutex
	frames []uint64
	firsts []time.Time
	eos    int
}

func (c *collector) ConsumePixelBuffer(buf pixel.Buffer, n uint64, first time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, n)
	c.firsts = append(c.firsts, first)
	return buf.Validate()
}

func (c *collector) ConsumeEndOfStream() {
	c.mu.Lock()
	c.eos++
	c.mu.Unlock()
}

func TestDevicesAndLookup(t *testing.T) {
	set := New(Options{})
	devices, err := set.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.True(t, devices[0].Booted())
	assert.False(t, devices[1].Booted())

	_, err = set.Simulator(context.Background(), "nope")
	assert.True(t, errors.Is(err, simulator.ErrUnknownDevice))
}

func TestDefaultTreeDecodes(t *testing.T) {
	sim, ok := New(Options{}).Lookup(DefaultUDID)
	require.True(t, ok)
	data, err := sim.AccessibilityElements(context.Background(), true)
	require.NoError(t, err)
	nodes, err := accessibility.Decode(data)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	button, ok := accessibility.FindByLabel(nodes, "Log In")
	require.True(t, ok)
	assert.Equal(t, "AXButton", button.Role)
}

func TestHIDRecordsEvents(t *testing.T) {
	sim, _ := New(Options{}).Lookup(DefaultUDID)
	hid, err := sim.ConnectHID(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, hid.SendTouch(ctx, simulator.Down, 10, 20))
	require.NoError(t, hid.SendTouch(ctx, simulator.Up, 10, 20))
	require.NoError(t, hid.SendKey(ctx, simulator.Down, shiftCode))
	require.NoError(t, hid.SendKey(ctx, simulator.Down, 4))
	require.NoError(t, hid.SendKey(ctx, simulator.Up, 4))
	require.NoError(t, hid.SendKey(ctx, simulator.Up, shiftCode))

	events := sim.Events()
	require.Len(t, events, 6)
	assert.Equal(t, "touch", events[0].Kind)
	assert.Equal(t, simulator.Up, events[1].Direction)
	assert.Equal(t, []uint32{4}, sim.KeyDowns())
}

func TestHIDErrorAndLatency(t *testing.T) {
	boom := errors.New("hid offline")
	sim, _ := New(Options{HIDError: boom}).Lookup(DefaultUDID)
	hid, err := sim.ConnectHID(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, hid.SendKey(context.Background(), simulator.Down, 4), boom)

	slow, _ := New(Options{Latency: time.Second}).Lookup(DefaultUDID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.ConnectHID(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlowAnimations(t *testing.T) {
	sim, _ := New(Options{}).Lookup(DefaultUDID)
	require.NoError(t, sim.SetSlowAnimations(context.Background(), true))
	assert.True(t, sim.SlowAnimations())
	require.NoError(t, sim.SetSlowAnimations(context.Background(), false))
	assert.False(t, sim.SlowAnimations())
}

func TestStreamDeliversFramesAndSingleEndOfStream(t *testing.T) {
	sim, _ := New(Options{Width: 8, Height: 6}).Lookup(DefaultUDID)
	fb, err := sim.ConnectFramebuffer(context.Background())
	require.NoError(t, err)

	snap, err := fb.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Width)

	stream, err := fb.Stream(simulator.StreamConfig{FramesPerSecond: 200})
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, stream.Start(context.Background(), c))
	assert.Error(t, stream.Start(context.Background(), c))

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.frames) >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, stream.Stop(context.Background()))
	require.NoError(t, stream.Stop(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 1, c.eos)
	assert.Equal(t, uint64(0), c.frames[0])
	assert.Equal(t, uint64(1), c.frames[1])
	for _, first := range c.firsts {
		assert.Equal(t, c.firsts[0], first)
	}
}

func TestStopBeforeStart(t *testing.T) {
	sim, _ := New(Options{}).Lookup(DefaultUDID)
	fb, err := sim.ConnectFramebuffer(context.Background())
	require.NoError(t, err)
	stream, err := fb.Stream(simulator.StreamConfig{})
	require.NoError(t, err)
	assert.NoError(t, stream.Stop(context.Background()))
}
