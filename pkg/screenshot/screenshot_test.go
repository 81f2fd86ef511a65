package screenshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

func TestSaveWritesPNGAndMetadata(t *testing.T) {
	buf := pixel.New(3, 2)
	buf.Data[0], buf.Data[1], buf.Data[2], buf.Data[3] = 30, 20, 10, 255

	path := filepath.Join(t.TempDir(), "shots", "home.png")
	captured := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	res, err := Save(buf, path, Metadata{CapturedAt: captured, Backend: "synthetic", DeviceUDID: "AAAA"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "home.json"), res.MetadataPath)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(20), g>>8)
	assert.Equal(t, uint32(30), b>>8)

	raw, err := os.ReadFile(res.MetadataPath)
	require.NoError(t, err)
	var meta Metadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "home.png", meta.ImagePath)
	assert.Equal(t, 3, meta.Width)
	assert.Equal(t, "bgra", meta.PixelFormat)
	assert.True(t, captured.Equal(meta.CapturedAt))
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	_, err := Save(pixel.New(2, 2), "", Metadata{})
	assert.Error(t, err)
	_, err = Save(pixel.Buffer{}, filepath.Join(t.TempDir(), "x.png"), Metadata{})
	assert.Error(t, err)
}

func TestSeriesWaitsBetweenCaptures(t *testing.T) {
	now := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	var waits []time.Duration
	clock := func() time.Time { return now }
	sleeper := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		now = now.Add(d)
		return nil
	}
	dir := t.TempDir()
	results, err := Series(context.Background(), func(context.Context) (pixel.Buffer, error) {
		return pixel.New(2, 2), nil
	}, SeriesOptions{
		Count:    3,
		Interval: 2 * time.Second,
		Path:     func(i int) string { return filepath.Join(dir, fmt.Sprintf("shot_%03d.png", i+1)) },
		Clock:    clock,
		Sleeper:  sleeper,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, waits)
	assert.FileExists(t, filepath.Join(dir, "shot_003.png"))
	assert.FileExists(t, filepath.Join(dir, "shot_003.json"))
}

func TestSeriesStopsOnGrabError(t *testing.T) {
	calls := 0
	boom := errors.New("framebuffer gone")
	dir := t.TempDir()
	results, err := Series(context.Background(), func(context.Context) (pixel.Buffer, error) {
		calls++
		if calls == 2 {
			return pixel.Buffer{}, boom
		}
		return pixel.New(2, 2), nil
	}, SeriesOptions{
		Count:    3,
		Interval: time.Millisecond,
		Path:     func(i int) string { return filepath.Join(dir, fmt.Sprintf("%d.png", i)) },
		Sleeper:  func(context.Context, time.Duration) error { return nil },
	})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, results, 1)
}

func TestSeriesValidation(t *testing.T) {
	grab := func(context.Context) (pixel.Buffer, error) { return pixel.New(2, 2), nil }
	_, err := Series(context.Background(), grab, SeriesOptions{Count: 0, Path: func(int) string { return "x" }})
	assert.Error(t, err)
	_, err = Series(context.Background(), grab, SeriesOptions{Count: 2, Path: func(int) string { return "x" }})
	assert.Error(t, err)
	_, err = Series(context.Background(), nil, SeriesOptions{Count: 1})
	assert.Error(t, err)
}
