package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Configuration selects and configures a device-set backend.
type Configuration struct {
	Backend       string
	DeviceSetPath string
	OpenTimeout   time.Duration
	Logger        *slog.Logger
}

// Opener constructs the DeviceSet for a configuration.
type Opener func(ctx context.Context, cfg Configuration) (DeviceSet, error)

// Control is a caller-owned handle on an opened device set. There is no
// process-wide instance: callers open one, keep it, and open again after a
// failure if they want to retry.
type Control struct {
	cfg    Configuration
	set    DeviceSet
	logger *slog.Logger
}

// Open acquires a device set through opener.
func Open(ctx context.Context, cfg Configuration, opener Opener) (*Control, error) {
	if opener == nil {
		return nil, errors.New("simulator: opener must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg.Backend = strings.TrimSpace(cfg.Backend)

	set, err := Await(ctx, cfg.OpenTimeout, "open device set", func(ctx context.Context) (DeviceSet, error) {
		return opener(ctx, cfg)
	})
	if err != nil {
		logger.Error("device set unavailable", "backend", cfg.Backend, "device_set", cfg.DeviceSetPath, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrControlUnavailable, err)
	}
	if set == nil {
		return nil, fmt.Errorf("%w: backend %q returned no device set", ErrControlUnavailable, cfg.Backend)
	}
	logger.Debug("device set opened", "backend", cfg.Backend, "device_set", cfg.DeviceSetPath)
	return &Control{cfg: cfg, set: set, logger: logger}, nil
}

// NewControl wraps an already opened device set.
func NewControl(set DeviceSet, cfg Configuration) *Control {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Control{cfg: cfg, set: set, logger: logger}
}

// Devices lists the simulators in the set.
func (c *Control) Devices(ctx context.Context) ([]Device, error) {
	return c.set.Devices(ctx)
}

// Simulator resolves a device by UDID. Unknown identifiers match ErrUnknownDevice.
func (c *Control) Simulator(ctx context.Context, udid string) (Simulator, error) {
	udid = strings.TrimSpace(udid)
	if udid == "" {
		return nil, UnknownDeviceError(udid)
	}
	sim, err := c.set.Simulator(ctx, udid)
	if err != nil {
		return nil, err
	}
	if sim == nil {
		return nil, UnknownDeviceError(udid)
	}
	return sim, nil
}

// FirstBooted returns the first booted device, used when no UDID is configured.
func (c *Control) FirstBooted(ctx context.Context) (Device, error) {
	devices, err := c.set.Devices(ctx)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.Booted() {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: no booted simulator", ErrUnknownDevice)
}
