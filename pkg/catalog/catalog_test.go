package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAddAndList(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	first, err := c.Add(ctx, Entry{
		DeviceUDID:     "AAAA",
		DeviceName:     "iPhone 15 Pro",
		Path:           "/tmp/a.mp4",
		State:          "finalized",
		FramesAccepted: 150,
		FramesDropped:  3,
		Duration:       5 * time.Second,
		FPS:            30,
		CreatedAt:      base,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, KindRecording, first.Kind)

	_, err = c.Add(ctx, Entry{DeviceUDID: "BBBB", Path: "/tmp/b.mp4", State: "failed", Error: "video: no frames recorded", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = c.Add(ctx, Entry{Kind: KindScreenshot, DeviceUDID: "AAAA", Path: "/tmp/a.png", State: "saved", CreatedAt: base.Add(2 * time.Minute)})
	require.NoError(t, err)

	all, err := c.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/tmp/a.png", all[0].Path)

	forDevice, err := c.List(ctx, ListOptions{DeviceUDID: "AAAA", Kind: KindRecording})
	require.NoError(t, err)
	require.Len(t, forDevice, 1)
	got := forDevice[0]
	assert.Equal(t, uint64(150), got.FramesAccepted)
	assert.Equal(t, uint64(3), got.FramesDropped)
	assert.Equal(t, 5*time.Second, got.Duration)
	assert.Equal(t, 30.0, got.FPS)
	assert.True(t, base.Equal(got.CreatedAt))

	limited, err := c.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAddRequiresPath(t *testing.T) {
	c := openTest(t)
	_, err := c.Add(context.Background(), Entry{DeviceUDID: "AAAA"})
	assert.Error(t, err)
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	c, err := Open(path, Options{})
	require.NoError(t, err)
	_, err = c.Add(context.Background(), Entry{DeviceUDID: "AAAA", Path: "/tmp/x.mp4", State: "finalized"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := Open(path, Options{})
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ", Options{})
	assert.Error(t, err)
}
