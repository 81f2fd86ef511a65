// Package synthetic implements a deterministic in-memory device set. It backs
// simdrive on hosts without CoreSimulator and in automated tests: HID events
// are recorded, the accessibility tree is a fixture, and the framebuffer is a
// generated gradient.
package synthetic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/offlinefirst/simdrive/pkg/accessibility"
	"github.com/offlinefirst/simdrive/pkg/pixel"
	"github.com/offlinefirst/simdrive/pkg/simulator"
)

// BackendName identifies this backend in configuration.
const BackendName = "synthetic"

// Default device identifiers.
const (
	DefaultUDID = "5A1B0C7E-0000-4000-8000-000000000001"
	IdleUDID    = "5A1B0C7E-0000-4000-8000-000000000002"
)

// Options configure the synthetic device set.
type Options struct {
	Devices       []simulator.Device
	Accessibility []byte
	Width         int
	Height        int
	Clock         func() time.Time

	// Latency delays every HID, accessibility and framebuffer call.
	Latency time.Duration
	// HIDError, when set, is returned by every HID event.
	HIDError error
}

// Set is an in-memory simulator.DeviceSet.
type Set struct {
	mu    sync.Mutex
	order []string
	sims  map[string]*Simulator
}

// Open satisfies simulator.Opener with the default fixture devices.
func Open(_ context.Context, _ simulator.Configuration) (simulator.DeviceSet, error) {
	return New(Options{}), nil
}

// New builds a device set from opts, filling defaults.
func New(opts Options) *Set {
	if len(opts.Devices) == 0 {
		opts.Devices = []simulator.Device{
			{UDID: DefaultUDID, Name: "iPhone 15 Pro", State: simulator.StateBooted, Runtime: "iOS 17.5", DeviceType: "iPhone16,1"},
			{UDID: IdleUDID, Name: "iPad Air 11-inch (M2)", State: simulator.StateShutdown, Runtime: "iOS 17.5", DeviceType: "iPad14,8"},
		}
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 390, 844
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Accessibility == nil {
		opts.Accessibility = defaultTree()
	}

	set := &Set{sims: make(map[string]*Simulator, len(opts.Devices))}
	for _, d := range opts.Devices {
		set.order = append(set.order, d.UDID)
		set.sims[d.UDID] = &Simulator{device: d, opts: opts}
	}
	return set
}

// Devices lists the fixture devices in declaration order.
func (s *Set) Devices(ctx context.Context) ([]simulator.Device, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]simulator.Device, 0, len(s.order))
	for _, udid := range s.order {
		out = append(out, s.sims[udid].device)
	}
	return out, nil
}

// Simulator resolves a device by UDID.
func (s *Set) Simulator(_ context.Context, udid string) (simulator.Simulator, error) {
	sim, ok := s.Lookup(udid)
	if !ok {
		return nil, simulator.UnknownDeviceError(udid)
	}
	return sim, nil
}

// Lookup returns the concrete simulator for inspection in tests.
func (s *Set) Lookup(udid string) (*Simulator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sim, ok := s.sims[udid]
	return sim, ok
}

// Event is one recorded HID edge.
type Event struct {
	Kind      string
	Direction simulator.Direction
	X, Y      float64
	Code      uint32
	At        time.Time
}

// Simulator is a synthetic device.
type Simulator struct {
	device simulator.Device
	opts   Options

	mu     sync.Mutex
	events []Event
	slow   bool
}

// Device returns the device description.
func (s *Simulator) Device() simulator.Device {
	return s.device
}

// AccessibilityElements returns the configured fixture.
func (s *Simulator) AccessibilityElements(ctx context.Context, _ bool) ([]byte, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.opts.Accessibility...), nil
}

// ConnectHID returns an input channel recording into the event log.
func (s *Simulator) ConnectHID(ctx context.Context) (simulator.HID, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	return hid{sim: s}, nil
}

// ConnectFramebuffer returns a gradient framebuffer.
func (s *Simulator) ConnectFramebuffer(ctx context.Context) (simulator.Framebuffer, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	return &framebuffer{sim: s}, nil
}

// SetSlowAnimations records the requested animation speed.
func (s *Simulator) SetSlowAnimations(ctx context.Context, enabled bool) error {
	if err := s.delay(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.slow = enabled
	s.mu.Unlock()
	return nil
}

// SlowAnimations reports the last value set.
func (s *Simulator) SlowAnimations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slow
}

// Events returns a copy of the HID event log.
func (s *Simulator) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// KeyDowns lists the key codes pressed, in order, excluding shift.
func (s *Simulator) KeyDowns() []uint32 {
	var codes []uint32
	for _, e := range s.Events() {
		if e.Kind == "key" && e.Direction == simulator.Down && e.Code != shiftCode {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

const shiftCode = 225

func (s *Simulator) record(e Event) {
	e.At = s.opts.Clock()
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *Simulator) delay(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.opts.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.opts.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type hid struct {
	sim *Simulator
}

func (h hid) SendTouch(ctx context.Context, dir simulator.Direction, x, y float64) error {
	if err := h.sim.delay(ctx); err != nil {
		return err
	}
	if h.sim.opts.HIDError != nil {
		return h.sim.opts.HIDError
	}
	h.sim.record(Event{Kind: "touch", Direction: dir, X: x, Y: y})
	return nil
}

func (h hid) SendKey(ctx context.Context, dir simulator.Direction, code uint32) error {
	if err := h.sim.delay(ctx); err != nil {
		return err
	}
	if h.sim.opts.HIDError != nil {
		return h.sim.opts.HIDError
	}
	h.sim.record(Event{Kind: "key", Direction: dir, Code: code})
	return nil
}

func gradient(width, height int, frame uint64) pixel.Buffer {
	buf := pixel.New(width, height)
	hue := byte(40 + frame%200)
	for y := 0; y < height; y++ {
		row := buf.Row(y)
		for x := 0; x < width; x++ {
			i := x * pixel.BytesPerPixel
			row[i] = byte(y % 255)
			row[i+1] = byte(x % 255)
			row[i+2] = hue
			row[i+3] = 255
		}
	}
	return buf
}

func defaultTree() []byte {
	label := func(s string) *string { return &s }
	nodes := []accessibility.Node{{
		AXFrame:         "{{0, 0}, {390, 844}}",
		Frame:           accessibility.Rect{Width: 390, Height: 844},
		RoleDescription: "application",
		AXLabel:         label("Synthetic"),
		Type:            "Application",
		CustomActions:   []string{},
		Enabled:         true,
		Role:            "AXApplication",
		PID:             4242,
		Children: []accessibility.Node{
			{
				AXFrame:         "{{20, 300}, {350, 44}}",
				AXUniqueID:      label("username"),
				Frame:           accessibility.Rect{X: 20, Y: 300, Width: 350, Height: 44},
				RoleDescription: "text field",
				AXLabel:         label("Username"),
				Type:            "TextField",
				CustomActions:   []string{},
				Enabled:         true,
				Role:            "AXTextField",
				PID:             4242,
			},
			{
				AXFrame:         "{{20, 360}, {350, 44}}",
				AXUniqueID:      label("password"),
				Frame:           accessibility.Rect{X: 20, Y: 360, Width: 350, Height: 44},
				RoleDescription: "secure text field",
				AXLabel:         label("Password"),
				Type:            "SecureTextField",
				CustomActions:   []string{},
				Enabled:         true,
				Role:            "AXTextField",
				Subrole:         label("AXSecureTextField"),
				PID:             4242,
			},
			{
				AXFrame:         "{{20, 420}, {350, 50}}",
				Frame:           accessibility.Rect{X: 20, Y: 420, Width: 350, Height: 50},
				RoleDescription: "button",
				AXLabel:         label("Log In"),
				Type:            "Button",
				CustomActions:   []string{},
				Enabled:         true,
				Role:            "AXButton",
				PID:             4242,
			},
		},
	}}
	data, err := accessibility.Encode(nodes)
	if err != nil {
		panic(fmt.Sprintf("synthetic: encode fixture tree: %v", err))
	}
	return data
}
