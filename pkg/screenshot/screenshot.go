// Package screenshot writes framebuffer snapshots to disk as PNG images with
// a JSON metadata sidecar.
package screenshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

// Metadata describes a written screenshot.
type Metadata struct {
	CapturedAt  time.Time `json:"captured_at"`
	Backend     string    `json:"backend"`
	DeviceUDID  string    `json:"device_udid"`
	DeviceName  string    `json:"device_name,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	PixelFormat string    `json:"pixel_format"`
	ImagePath   string    `json:"image_path"`
	Notes       []string  `json:"notes,omitempty"`
}

// Result points at the written files.
type Result struct {
	ImagePath    string
	MetadataPath string
	Metadata     Metadata
}

// MetadataPath returns the sidecar path for an image path.
func MetadataPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
}

// Save encodes buf as PNG at path and writes meta next to it.
func Save(buf pixel.Buffer, path string, meta Metadata) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{}, errors.New("screenshot path must not be empty")
	}
	if err := buf.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid frame: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, fmt.Errorf("ensure destination: %w", err)
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, buf.Image()); err != nil {
		return Result{}, fmt.Errorf("encode png: %w", err)
	}
	if err := os.WriteFile(path, encoded.Bytes(), 0o644); err != nil {
		return Result{}, fmt.Errorf("write screenshot %q: %w", path, err)
	}

	if meta.CapturedAt.IsZero() {
		meta.CapturedAt = time.Now()
	}
	meta.CapturedAt = meta.CapturedAt.UTC()
	meta.Width = buf.Width
	meta.Height = buf.Height
	meta.PixelFormat = "bgra"
	meta.ImagePath = filepath.Base(path)

	metaPath := MetadataPath(path)
	payload, err := sonic.ConfigStd.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, payload, 0o644); err != nil {
		return Result{}, fmt.Errorf("write metadata %q: %w", metaPath, err)
	}
	return Result{ImagePath: path, MetadataPath: metaPath, Metadata: meta}, nil
}

// Grabber returns the current frame.
type Grabber func(ctx context.Context) (pixel.Buffer, error)

// SeriesOptions configure a Series capture.
type SeriesOptions struct {
	Count    int
	Interval time.Duration
	// Path names the i-th (zero-based) image.
	Path     func(i int) string
	Metadata Metadata
	Clock    func() time.Time
	Sleeper  func(context.Context, time.Duration) error
}

// Series captures opts.Count screenshots spaced opts.Interval apart.
func Series(ctx context.Context, grab Grabber, opts SeriesOptions) ([]Result, error) {
	if grab == nil {
		return nil, errors.New("grabber must not be nil")
	}
	if opts.Count <= 0 {
		return nil, errors.New("count must be positive")
	}
	if opts.Count > 1 && opts.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if opts.Path == nil {
		return nil, errors.New("path function must not be nil")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = defaultSleeper
	}
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]Result, 0, opts.Count)
	next := clock()
	for i := 0; i < opts.Count; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if wait := next.Sub(clock()); wait > 0 {
			if err := sleeper(ctx, wait); err != nil {
				return results, err
			}
		}
		buf, err := grab(ctx)
		if err != nil {
			return results, fmt.Errorf("capture frame %d: %w", i+1, err)
		}
		meta := opts.Metadata
		meta.CapturedAt = clock()
		res, err := Save(buf, opts.Path(i), meta)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		next = next.Add(opts.Interval)
	}
	return results, nil
}

func defaultSleeper(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
