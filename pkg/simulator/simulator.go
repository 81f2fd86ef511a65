// Package simulator defines the device-control surface simdrive drives: a set
// of simulated devices, their HID input channel, framebuffer stream and
// accessibility snapshots. Backends implement these interfaces; the rest of
// the module depends only on them.
package simulator

import (
	"context"
	"time"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

// Device describes one simulator in a device set.
type Device struct {
	UDID       string `json:"udid"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Runtime    string `json:"runtime,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// Booted reports whether the device is running.
func (d Device) Booted() bool {
	return d.State == StateBooted
}

// Device states as reported by CoreSimulator.
const (
	StateBooted   = "Booted"
	StateShutdown = "Shutdown"
)

// Direction is the edge of a touch or key event.
type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// HID delivers synthesized touch and keyboard events to a device.
type HID interface {
	SendTouch(ctx context.Context, dir Direction, x, y float64) error
	SendKey(ctx context.Context, dir Direction, code uint32) error
}

// PixelConsumer receives frames from a VideoStream. timeAtFirstFrame is the
// wall-clock instant at which the stream delivered its first frame.
type PixelConsumer interface {
	ConsumePixelBuffer(buf pixel.Buffer, frameNumber uint64, timeAtFirstFrame time.Time) error
	ConsumeEndOfStream()
}

// StreamConfig configures a framebuffer stream.
type StreamConfig struct {
	FramesPerSecond int
}

// VideoStream pushes framebuffer frames into a consumer until stopped. Stop
// must deliver ConsumeEndOfStream exactly once.
type VideoStream interface {
	Start(ctx context.Context, consumer PixelConsumer) error
	Stop(ctx context.Context) error
}

// Framebuffer is a connected device screen.
type Framebuffer interface {
	Snapshot(ctx context.Context) (pixel.Buffer, error)
	Stream(cfg StreamConfig) (VideoStream, error)
}

// Simulator is a resolved device handle.
type Simulator interface {
	Device() Device
	// AccessibilityElements returns the accessibility snapshot as a JSON array.
	AccessibilityElements(ctx context.Context, nested bool) ([]byte, error)
	ConnectHID(ctx context.Context) (HID, error)
	ConnectFramebuffer(ctx context.Context) (Framebuffer, error)
	SetSlowAnimations(ctx context.Context, enabled bool) error
}

// DeviceSet enumerates and resolves simulators.
type DeviceSet interface {
	Devices(ctx context.Context) ([]Device, error)
	Simulator(ctx context.Context, udid string) (Simulator, error)
}
