// Package device is the session facade over one simulator: accessibility
// snapshots, taps, typing, the login macro, the slow-animation switch,
// screenshots and recordings. Every device call is bounded by a timeout and
// errors from the backend are returned unchanged.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinefirst/simdrive/pkg/accessibility"
	"github.com/offlinefirst/simdrive/pkg/catalog"
	"github.com/offlinefirst/simdrive/pkg/keymap"
	"github.com/offlinefirst/simdrive/pkg/simulator"
	"github.com/offlinefirst/simdrive/pkg/video"
)

// Default timings.
const (
	DefaultCallTimeout    = 5 * time.Second
	DefaultKeyEdgeTimeout = time.Second
	DefaultKeyDwell       = 10 * time.Millisecond
	DefaultLoginDelay     = 2 * time.Second
)

// ErrElementNotFound is returned when no accessibility element matches a label.
var ErrElementNotFound = errors.New("device: element not found")

// Resolver resolves a simulator by UDID. *simulator.Control implements it.
type Resolver interface {
	Simulator(ctx context.Context, udid string) (simulator.Simulator, error)
}

// Catalog records finished captures. *catalog.Catalog implements it.
type Catalog interface {
	Add(ctx context.Context, e catalog.Entry) (catalog.Entry, error)
}

// RecordingDefaults configure recordings started from a session.
type RecordingDefaults struct {
	Dir             string
	FramesPerSecond int
	Width           int
	Height          int

	// WriterFactory defaults to an ffmpeg writer built from Encoder with the
	// recording's frame rate.
	WriterFactory video.WriterFactory
	Encoder       video.FFmpegOptions
	FinishTimeout time.Duration
	Metrics       *video.Metrics
}

// Options configure a Session.
type Options struct {
	AccessibilityTimeout time.Duration
	HIDTimeout           time.Duration
	FramebufferTimeout   time.Duration
	ControlTimeout       time.Duration
	KeyEdgeTimeout       time.Duration
	KeyDwell             time.Duration
	LoginDelay           time.Duration

	ScreenshotDir string
	Recording     RecordingDefaults
	Catalog       Catalog
	Backend       string

	Clock   func() time.Time
	Sleeper func(context.Context, time.Duration) error
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	positive := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	positive(&o.AccessibilityTimeout, DefaultCallTimeout)
	positive(&o.HIDTimeout, DefaultCallTimeout)
	positive(&o.FramebufferTimeout, DefaultCallTimeout)
	positive(&o.ControlTimeout, DefaultCallTimeout)
	positive(&o.KeyEdgeTimeout, DefaultKeyEdgeTimeout)
	positive(&o.KeyDwell, DefaultKeyDwell)
	positive(&o.LoginDelay, DefaultLoginDelay)
	if o.Recording.FramesPerSecond <= 0 {
		o.Recording.FramesPerSecond = video.DefaultFramesPerSecond
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Sleeper == nil {
		o.Sleeper = sleep
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Session drives one simulator. Input commands are serialized; at most one
// recording is active at a time.
type Session struct {
	sim    simulator.Simulator
	device simulator.Device
	opts   Options
	logger *slog.Logger

	inputMu sync.Mutex
	hidMu   sync.Mutex
	hid     simulator.HID

	recMu  sync.Mutex
	active *Recording
}

// Open resolves udid and returns a session for it.
func Open(ctx context.Context, resolver Resolver, udid string, opts Options) (*Session, error) {
	if resolver == nil {
		return nil, errors.New("device: resolver must not be nil")
	}
	opts = opts.withDefaults()
	sim, err := resolver.Simulator(ctx, udid)
	if err != nil {
		return nil, err
	}
	dev := sim.Device()
	return &Session{
		sim:    sim,
		device: dev,
		opts:   opts,
		logger: opts.Logger.With("udid", dev.UDID),
	}, nil
}

// Device describes the simulator behind the session.
func (s *Session) Device() simulator.Device {
	return s.device
}

// AccessibilityElements fetches and decodes the accessibility tree. A
// timeout matches simulator.ErrTimeout; malformed data matches
// accessibility.ErrDecode.
func (s *Session) AccessibilityElements(ctx context.Context) ([]accessibility.Node, error) {
	data, err := simulator.Await(ctx, s.opts.AccessibilityTimeout, "accessibility snapshot", func(ctx context.Context) ([]byte, error) {
		return s.sim.AccessibilityElements(ctx, true)
	})
	if err != nil {
		return nil, err
	}
	return accessibility.Decode(data)
}

// Tap sends a touch down then a touch up at (x, y).
func (s *Session) Tap(ctx context.Context, x, y float64) error {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	hid, err := s.connectHID(ctx)
	if err != nil {
		return err
	}
	for _, dir := range []simulator.Direction{simulator.Down, simulator.Up} {
		err := simulator.AwaitErr(ctx, s.opts.HIDTimeout, "touch "+dir.String(), func(ctx context.Context) error {
			return hid.SendTouch(ctx, dir, x, y)
		})
		if err != nil {
			return err
		}
	}
	s.logger.Debug("tap", "x", x, "y", y)
	return nil
}

// TapElement taps the centre of the element labelled label.
func (s *Session) TapElement(ctx context.Context, label string) (accessibility.Node, error) {
	nodes, err := s.AccessibilityElements(ctx)
	if err != nil {
		return accessibility.Node{}, err
	}
	node, ok := accessibility.FindByLabel(nodes, label)
	if !ok {
		return accessibility.Node{}, fmt.Errorf("%w: %q", ErrElementNotFound, label)
	}
	x, y := node.Frame.Center()
	return node, s.Tap(ctx, x, y)
}

// PressKey types one character. Characters without a key code are ignored.
func (s *Session) PressKey(ctx context.Context, r rune) error {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	_, err := s.pressKey(ctx, r)
	return err
}

// TypeResult reports what TypeText sent.
type TypeResult struct {
	Sent    int
	Skipped []rune
}

// TypeText presses each character of text in order, skipping characters
// without a key code. The first failing keystroke aborts the rest.
func (s *Session) TypeText(ctx context.Context, text string) (TypeResult, error) {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	return s.typeText(ctx, text)
}

func (s *Session) typeText(ctx context.Context, text string) (TypeResult, error) {
	typed, skipped := keymap.Filter(text)
	res := TypeResult{Skipped: skipped}
	for _, r := range typed {
		if _, err := s.pressKey(ctx, r); err != nil {
			return res, err
		}
		res.Sent++
	}
	if len(res.Skipped) > 0 {
		s.logger.Debug("unsupported characters skipped", "count", len(res.Skipped))
	}
	return res, nil
}

func (s *Session) pressKey(ctx context.Context, r rune) (bool, error) {
	key, ok := keymap.Lookup(r)
	if !ok {
		return false, nil
	}
	hid, err := s.connectHID(ctx)
	if err != nil {
		return false, err
	}
	edge := func(dir simulator.Direction, code uint32) error {
		return simulator.AwaitErr(ctx, s.opts.KeyEdgeTimeout, fmt.Sprintf("key %d %s", code, dir), func(ctx context.Context) error {
			return hid.SendKey(ctx, dir, code)
		})
	}
	if key.Shift {
		if err := edge(simulator.Down, keymap.ShiftCode); err != nil {
			return false, err
		}
	}
	if err := edge(simulator.Down, key.Code); err != nil {
		return false, err
	}
	if err := s.opts.Sleeper(ctx, s.opts.KeyDwell); err != nil {
		return false, err
	}
	if err := edge(simulator.Up, key.Code); err != nil {
		return false, err
	}
	if key.Shift {
		if err := edge(simulator.Up, keymap.ShiftCode); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Login types username, presses return, waits the login delay, types
// password and presses return, in the background. The returned task reports
// completion and the first error. The password is never logged.
func (s *Session) Login(ctx context.Context, username, password string) *Task {
	typeStep := func(text string) func(context.Context) error {
		return func(ctx context.Context) error {
			s.inputMu.Lock()
			defer s.inputMu.Unlock()
			_, err := s.typeText(ctx, text)
			return err
		}
	}
	steps := []Step{
		{Name: "username", Run: typeStep(username)},
		{Name: "submit username", Run: typeStep("\n")},
		{Name: "wait", Run: func(ctx context.Context) error { return s.opts.Sleeper(ctx, s.opts.LoginDelay) }},
		{Name: "password", Run: typeStep(password)},
		{Name: "submit password", Run: typeStep("\n")},
	}
	s.logger.Info("login started", "username_length", len([]rune(username)))
	return StartTask(ctx, "login", s.logger, steps)
}

// SetSlowAnimations switches the simulator's slow-animation mode.
func (s *Session) SetSlowAnimations(ctx context.Context, enabled bool) error {
	err := simulator.AwaitErr(ctx, s.opts.ControlTimeout, "slow animations", func(ctx context.Context) error {
		return s.sim.SetSlowAnimations(ctx, enabled)
	})
	if err != nil {
		return err
	}
	s.logger.Info("slow animations", "enabled", enabled)
	return nil
}

func (s *Session) connectHID(ctx context.Context) (simulator.HID, error) {
	s.hidMu.Lock()
	defer s.hidMu.Unlock()
	if s.hid != nil {
		return s.hid, nil
	}
	hid, err := simulator.Await(ctx, s.opts.HIDTimeout, "hid connect", s.sim.ConnectHID)
	if err != nil {
		return nil, err
	}
	s.hid = hid
	return hid, nil
}

func (s *Session) connectFramebuffer(ctx context.Context) (simulator.Framebuffer, error) {
	return simulator.Await(ctx, s.opts.FramebufferTimeout, "framebuffer connect", s.sim.ConnectFramebuffer)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
