// Package simctl implements the simulator ports on top of Apple's simctl
// command line tool. Device listing, screenshots and the slow-animation switch
// are available; HID injection and accessibility extraction need private
// CoreSimulator frameworks and report errors.ErrUnsupported.
package simctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/offlinefirst/simdrive/pkg/pixel"
	"github.com/offlinefirst/simdrive/pkg/simulator"
)

// BackendName identifies this backend in configuration.
const BackendName = "simctl"

// SlowMotionNotification is the Darwin notification UIKit observes for the
// simulator's slow-animation mode.
const SlowMotionNotification = "com.apple.UIKit.SimulatorSlowMotionAnimationState"

// DefaultFramesPerSecond caps screenshot polling.
const DefaultFramesPerSecond = 10

const runtimePrefix = "com.apple.CoreSimulator.SimRuntime."

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configure the simctl backend.
type Options struct {
	Xcrun         string
	DeviceSetPath string
	Runner        Runner
	LookPath      func(string) (string, error)
	Clock         func() time.Time
	Logger        *slog.Logger
}

// Set is a simctl-backed simulator.DeviceSet.
type Set struct {
	xcrun   string
	setPath string
	run     Runner
	clock   func() time.Time
	logger  *slog.Logger
}

// Open satisfies simulator.Opener.
func Open(_ context.Context, cfg simulator.Configuration) (simulator.DeviceSet, error) {
	return New(Options{DeviceSetPath: cfg.DeviceSetPath, Logger: cfg.Logger})
}

// New locates xcrun and returns a device set.
func New(opts Options) (*Set, error) {
	xcrun := strings.TrimSpace(opts.Xcrun)
	if xcrun == "" {
		xcrun = "xcrun"
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	resolved, err := lookPath(xcrun)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", xcrun, err)
	}
	run := opts.Runner
	if run == nil {
		run = ExecRunner
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Set{
		xcrun:   resolved,
		setPath: strings.TrimSpace(opts.DeviceSetPath),
		run:     run,
		clock:   clock,
		logger:  logger,
	}, nil
}

// ExecRunner runs the command with os/exec, folding stderr into errors.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

func (s *Set) simctl(ctx context.Context, args ...string) ([]byte, error) {
	full := []string{"simctl"}
	if s.setPath != "" {
		full = append(full, "--set", s.setPath)
	}
	full = append(full, args...)
	return s.run(ctx, s.xcrun, full...)
}

type listing struct {
	Devices map[string][]struct {
		UDID                 string `json:"udid"`
		Name                 string `json:"name"`
		State                string `json:"state"`
		DeviceTypeIdentifier string `json:"deviceTypeIdentifier"`
		IsAvailable          *bool  `json:"isAvailable"`
	} `json:"devices"`
}

// Devices lists available simulators grouped by runtime, in runtime order.
func (s *Set) Devices(ctx context.Context) ([]simulator.Device, error) {
	out, err := s.simctl(ctx, "list", "devices", "--json")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out)
}

// ParseDevices decodes `simctl list devices --json` output.
func ParseDevices(data []byte) ([]simulator.Device, error) {
	var doc listing
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}
	runtimes := make([]string, 0, len(doc.Devices))
	for rt := range doc.Devices {
		runtimes = append(runtimes, rt)
	}
	sort.Strings(runtimes)

	var devices []simulator.Device
	for _, rt := range runtimes {
		for _, d := range doc.Devices[rt] {
			if d.IsAvailable != nil && !*d.IsAvailable {
				continue
			}
			devices = append(devices, simulator.Device{
				UDID:       d.UDID,
				Name:       d.Name,
				State:      d.State,
				Runtime:    RuntimeName(rt),
				DeviceType: strings.TrimPrefix(d.DeviceTypeIdentifier, "com.apple.CoreSimulator.SimDeviceType."),
			})
		}
	}
	return devices, nil
}

// RuntimeName turns a runtime identifier such as
// com.apple.CoreSimulator.SimRuntime.iOS-17-5 into "iOS 17.5".
func RuntimeName(identifier string) string {
	name := strings.TrimPrefix(identifier, runtimePrefix)
	platform, version, ok := strings.Cut(name, "-")
	if !ok {
		return name
	}
	return platform + " " + strings.ReplaceAll(version, "-", ".")
}

// Simulator resolves a device by UDID.
func (s *Set) Simulator(ctx context.Context, udid string) (simulator.Simulator, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.UDID == udid {
			return &Simulator{set: s, device: d}, nil
		}
	}
	return nil, simulator.UnknownDeviceError(udid)
}

// Simulator is a simctl-controlled device.
type Simulator struct {
	set    *Set
	device simulator.Device
}

// Device returns the device description.
func (s *Simulator) Device() simulator.Device {
	return s.device
}

// AccessibilityElements is unavailable through simctl.
func (s *Simulator) AccessibilityElements(context.Context, bool) ([]byte, error) {
	return nil, fmt.Errorf("simctl: accessibility snapshot: %w", errors.ErrUnsupported)
}

// ConnectHID is unavailable through simctl.
func (s *Simulator) ConnectHID(context.Context) (simulator.HID, error) {
	return nil, fmt.Errorf("simctl: hid connection: %w", errors.ErrUnsupported)
}

// ConnectFramebuffer returns a framebuffer backed by simctl screenshots.
func (s *Simulator) ConnectFramebuffer(ctx context.Context) (simulator.Framebuffer, error) {
	if !s.device.Booted() {
		return nil, fmt.Errorf("simctl: device %s is %s", s.device.UDID, strings.ToLower(s.device.State))
	}
	return &framebuffer{sim: s}, nil
}

// SetSlowAnimations posts the slow-motion notification inside the device.
func (s *Simulator) SetSlowAnimations(ctx context.Context, enabled bool) error {
	state := "0"
	if enabled {
		state = "1"
	}
	if _, err := s.set.simctl(ctx, "spawn", s.device.UDID, "notifyutil", "-s", SlowMotionNotification, state); err != nil {
		return fmt.Errorf("set slow animation state: %w", err)
	}
	if _, err := s.set.simctl(ctx, "spawn", s.device.UDID, "notifyutil", "-p", SlowMotionNotification); err != nil {
		return fmt.Errorf("post slow animation notification: %w", err)
	}
	s.set.logger.Debug("slow animations set", "udid", s.device.UDID, "enabled", enabled)
	return nil
}

type framebuffer struct {
	sim *Simulator
}

func (f *framebuffer) Snapshot(ctx context.Context) (pixel.Buffer, error) {
	out, err := f.sim.set.simctl(ctx, "io", f.sim.device.UDID, "screenshot", "--type=png", "-")
	if err != nil {
		return pixel.Buffer{}, err
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return pixel.Buffer{}, fmt.Errorf("decode screenshot: %w", err)
	}
	return pixel.FromImage(img), nil
}

func (f *framebuffer) Stream(cfg simulator.StreamConfig) (simulator.VideoStream, error) {
	fps := cfg.FramesPerSecond
	if fps <= 0 || fps > DefaultFramesPerSecond {
		fps = DefaultFramesPerSecond
	}
	grab := func(ctx context.Context, _ uint64) (pixel.Buffer, error) {
		return f.Snapshot(ctx)
	}
	return simulator.NewPollingStream(fps, f.sim.set.clock, grab, f.sim.set.logger.With("udid", f.sim.device.UDID)), nil
}
