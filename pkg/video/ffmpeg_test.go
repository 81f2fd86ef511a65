package video

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

type fakeEncoder struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	closed  bool
	waitErr error
	ctx     context.Context
	args    []string
}

func (e *fakeEncoder) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Write(p)
}

func (e *fakeEncoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) Wait() error {
	return e.waitErr
}

func (e *fakeEncoder) bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.buf.Bytes()...)
}

func fakeFFmpeg(enc *fakeEncoder) FFmpegOptions {
	return FFmpegOptions{
		FramesPerSecond: 10,
		LookPath:        func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		Launcher: func(ctx context.Context, binary string, args []string) (Encoder, error) {
			enc.ctx = ctx
			enc.args = append([]string{binary}, args...)
			return enc, nil
		},
	}
}

func solid(width, height int, value byte) pixel.Buffer {
	buf := pixel.New(width, height)
	for i := range buf.Data {
		buf.Data[i] = value
	}
	return buf
}

func TestFFmpegArgs(t *testing.T) {
	args := FFmpegArgs(WriterConfig{Path: "/tmp/out.mp4", Width: 390, Height: 844}, "libx264", 30)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f rawvideo -pix_fmt bgra -s 390x844 -framerate 30 -i -")
	assert.Contains(t, joined, "-vf pad=ceil(iw/2)*2:ceil(ih/2)*2 -c:v libx264 -pix_fmt yuv420p -movflags +faststart")
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestNewFFmpegWriterValidation(t *testing.T) {
	enc := &fakeEncoder{}
	dir := t.TempDir()

	_, err := NewFFmpegWriter(WriterConfig{Path: filepath.Join(dir, "a.mp4"), Width: 0, Height: 2}, fakeFFmpeg(enc))
	assert.Error(t, err)

	_, err = NewFFmpegWriter(WriterConfig{Path: "", Width: 2, Height: 2}, fakeFFmpeg(enc))
	assert.Error(t, err)

	opts := fakeFFmpeg(enc)
	opts.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, err = NewFFmpegWriter(WriterConfig{Path: filepath.Join(dir, "a.mp4"), Width: 2, Height: 2}, opts)
	assert.ErrorIs(t, err, ErrEncoderMissing)
}

func TestFFmpegWriterResamplesToConstantRate(t *testing.T) {
	enc := &fakeEncoder{}
	path := filepath.Join(t.TempDir(), "nested", "out.mp4")
	w, err := NewFFmpegWriter(WriterConfig{Path: path, Width: 2, Height: 2, Start: 50 * time.Millisecond}, fakeFFmpeg(enc))
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/ffmpeg", enc.args[0])
	assert.DirExists(t, filepath.Dir(path))

	a := solid(2, 2, 0xAA)
	b := solid(2, 2, 0xBB)
	c := solid(2, 2, 0xCC)

	require.True(t, w.ReadyForMoreMediaData())
	require.NoError(t, w.Append(a, 50*time.Millisecond))
	// Same output slot as a: replaces it.
	require.NoError(t, w.Append(b, 80*time.Millisecond))
	// Three slots later.
	require.NoError(t, w.Append(c, 350*time.Millisecond))

	asset, err := w.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, asset.Path)
	assert.Equal(t, 400*time.Millisecond, asset.Duration)

	frame := 2 * 2 * pixel.BytesPerPixel
	written := enc.bytes()
	require.Len(t, written, 4*frame)
	assert.Equal(t, bytes.Repeat([]byte{0xBB}, 3*frame), written[:3*frame])
	assert.Equal(t, bytes.Repeat([]byte{0xCC}, frame), written[3*frame:])
	assert.True(t, enc.closed)
	assert.False(t, w.ReadyForMoreMediaData())
}

func TestFFmpegWriterPadsOddNativeResolution(t *testing.T) {
	enc := &fakeEncoder{}
	clock := &manualClock{now: origin}
	session, err := NewSession(Options{
		Path:          filepath.Join(t.TempDir(), "native.mp4"),
		Clock:         clock.Now,
		WriterFactory: NewFFmpegFactory(fakeFFmpeg(enc)),
	})
	require.NoError(t, err)

	ok, err := session.Append(solid(1179, 2556, 1), origin)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateRecording, session.State())

	joined := strings.Join(enc.args, " ")
	assert.Contains(t, joined, "-s 1179x2556")
	assert.Contains(t, joined, "-vf pad=ceil(iw/2)*2:ceil(ih/2)*2")

	result, err := session.Wait(contextAfter(t, session.Finish()))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.FramesAccepted)
}

// gatedEncoder blocks every Write until released.
type gatedEncoder struct {
	fakeEncoder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedEncoder() *gatedEncoder {
	return &gatedEncoder{entered: make(chan struct{}), release: make(chan struct{})}
}

func (e *gatedEncoder) Write(p []byte) (int, error) {
	e.once.Do(func() { close(e.entered) })
	<-e.release
	return e.fakeEncoder.Write(p)
}

func TestFFmpegWriterReadyAppendNeverBlocks(t *testing.T) {
	enc := newGatedEncoder()
	opts := fakeFFmpeg(&enc.fakeEncoder)
	opts.QueueSize = 2
	opts.Launcher = func(context.Context, string, []string) (Encoder, error) { return enc, nil }
	w, err := NewFFmpegWriter(WriterConfig{Path: filepath.Join(t.TempDir(), "gap.mp4"), Width: 2, Height: 2}, opts)
	require.NoError(t, err)

	appendReady := func(value byte, pts time.Duration) bool {
		if !w.ReadyForMoreMediaData() {
			return false
		}
		done := make(chan error, 1)
		go func() { done <- w.Append(solid(2, 2, value), pts) }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("append at %s blocked after the writer reported ready", pts)
		}
		return true
	}

	require.True(t, appendReady(1, 0))
	// A three second gap at 10 fps spans thirty output slots.
	require.True(t, appendReady(2, 3*time.Second))
	select {
	case <-enc.entered:
	case <-time.After(time.Second):
		t.Fatalf("encoder never received a frame")
	}
	require.True(t, appendReady(3, 3100*time.Millisecond))
	require.True(t, appendReady(4, 3200*time.Millisecond))
	assert.False(t, w.ReadyForMoreMediaData())
	assert.False(t, appendReady(5, 3300*time.Millisecond))

	close(enc.release)
	asset, err := w.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3300*time.Millisecond, asset.Duration)

	frame := 2 * 2 * pixel.BytesPerPixel
	written := enc.bytes()
	require.Len(t, written, 33*frame)
	assert.Equal(t, bytes.Repeat([]byte{1}, 30*frame), written[:30*frame])
	assert.Equal(t, bytes.Repeat([]byte{4}, frame), written[32*frame:])
}

func TestFFmpegWriterRejectsMismatchedFrame(t *testing.T) {
	enc := &fakeEncoder{}
	w, err := NewFFmpegWriter(WriterConfig{Path: filepath.Join(t.TempDir(), "o.mp4"), Width: 2, Height: 2}, fakeFFmpeg(enc))
	require.NoError(t, err)
	assert.Error(t, w.Append(pixel.New(4, 4), 0))
	w.Cancel()
}

func TestFFmpegWriterSurfacesEncoderExit(t *testing.T) {
	enc := &fakeEncoder{waitErr: errors.New("exit status 1")}
	w, err := NewFFmpegWriter(WriterConfig{Path: filepath.Join(t.TempDir(), "o.mp4"), Width: 2, Height: 2}, fakeFFmpeg(enc))
	require.NoError(t, err)
	require.NoError(t, w.Append(solid(2, 2, 1), 0))

	_, err = w.Finish(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestFFmpegWriterCancelRemovesPartialFile(t *testing.T) {
	enc := &fakeEncoder{}
	path := filepath.Join(t.TempDir(), "partial.mp4")
	w, err := NewFFmpegWriter(WriterConfig{Path: path, Width: 2, Height: 2}, fakeFFmpeg(enc))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	w.Cancel()
	assert.ErrorIs(t, enc.ctx.Err(), context.Canceled)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	}, time.Second, 5*time.Millisecond)

	_, err = w.Finish(context.Background())
	assert.Error(t, err)
}

func TestFFmpegFactoryFeedsSession(t *testing.T) {
	enc := &fakeEncoder{}
	clock := &manualClock{now: origin}
	session, err := NewSession(Options{
		Path:          filepath.Join(t.TempDir(), "session.mp4"),
		Clock:         clock.Now,
		WriterFactory: NewFFmpegFactory(fakeFFmpeg(enc)),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Set(origin.Add(time.Duration(i) * 100 * time.Millisecond))
		ok, err := session.Append(solid(2, 2, byte(i)), origin)
		require.NoError(t, err)
		require.True(t, ok)
	}
	result, err := session.Wait(contextAfter(t, session.Finish()))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, result.Duration)
	assert.InDelta(t, 10.0, result.FPS, 0.001)
}

func TestDetectEnvironment(t *testing.T) {
	env := DetectEnvironment(DetectorOptions{LookPath: func(string) (string, error) { return "/opt/bin/ffmpeg", nil }})
	assert.True(t, env.Available)
	assert.Equal(t, "/opt/bin/ffmpeg", env.Binary)

	env = DetectEnvironment(DetectorOptions{Binary: "avconv", LookPath: func(string) (string, error) { return "", errors.New("missing") }})
	assert.False(t, env.Available)
	assert.Equal(t, "avconv", env.Binary)
	assert.NotEmpty(t, env.Guidance)
}
