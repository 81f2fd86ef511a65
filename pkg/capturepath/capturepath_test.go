package capturepath

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 7, 14, 5, 9, 0, time.Local)

	first := Make(dir, "Stream", "mp4", "iPhone 15 Pro", now)
	second := Make(dir, "Stream", "mp4", "iPhone 15 Pro", now)
	assert.Equal(t, first, second)
	assert.Equal(t, filepath.Join(dir, "Stream_iPhone_15_Pro_2024-06-07_14.05.09.mp4"), first)
}

func TestMakeReplacesSpaces(t *testing.T) {
	now := time.Date(2024, 6, 7, 14, 5, 9, 0, time.Local)
	path := Make(t.TempDir(), "RocketSim Recording", ".mov", "iPad Air (5th generation)", now)
	assert.False(t, strings.Contains(filepath.Base(path), " "))
	assert.True(t, strings.HasSuffix(path, ".mov"))
	assert.True(t, filepath.IsAbs(path))
}

func TestMakeReplacesPathSeparators(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 7, 14, 5, 9, 0, time.Local)
	path := Make(dir, "Screenshot", "png", "QA/Login iPhone", now)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, "Screenshot_QA_Login_iPhone_2024-06-07_14.05.09.png", filepath.Base(path))
}

func TestMakeDistinctDevices(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 7, 14, 5, 9, 0, time.Local)
	assert.NotEqual(t,
		Make(dir, "Stream", "mp4", "iPhone 15", now),
		Make(dir, "Stream", "mp4", "iPhone 15 Pro", now),
	)
}

func TestMakeSameSecondCollides(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 7, 14, 5, 9, 0, time.Local)
	assert.Equal(t,
		Make(dir, "Stream", "mp4", "iPhone", now),
		Make(dir, "Stream", "mp4", "iPhone", now.Add(400*time.Millisecond)),
	)
}

func TestFactoryDefaultsToTempDir(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	f := Factory{Prefix: "Screenshot", Extension: "png", DeviceName: "iPhone", Clock: func() time.Time { return now }}
	path := f.Make()
	require.True(t, filepath.IsAbs(path))
	assert.Equal(t, "Screenshot_iPhone_2024-01-02_03.04.05.png", filepath.Base(path))
}
