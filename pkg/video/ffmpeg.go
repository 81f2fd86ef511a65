package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

// Encoder defaults.
const (
	DefaultBinary          = "ffmpeg"
	DefaultCodec           = "libx264"
	DefaultFramesPerSecond = 30
	DefaultQueueSize       = 8
)

// Encoder is a running encoder process fed raw frames on its input.
type Encoder interface {
	io.WriteCloser
	Wait() error
}

// EncoderLauncher starts an encoder. Cancelling ctx must stop it.
type EncoderLauncher func(ctx context.Context, binary string, args []string) (Encoder, error)

// FFmpegOptions configure FFmpegWriter.
type FFmpegOptions struct {
	Binary          string
	Codec           string
	FramesPerSecond int
	QueueSize       int
	LookPath        func(string) (string, error)
	Launcher        EncoderLauncher
	Logger          *slog.Logger
}

func (o FFmpegOptions) withDefaults() FFmpegOptions {
	if strings.TrimSpace(o.Binary) == "" {
		o.Binary = DefaultBinary
	}
	if strings.TrimSpace(o.Codec) == "" {
		o.Codec = DefaultCodec
	}
	if o.FramesPerSecond <= 0 {
		o.FramesPerSecond = DefaultFramesPerSecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	if o.Launcher == nil {
		o.Launcher = ExecLauncher
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// NewFFmpegFactory returns a WriterFactory producing FFmpegWriters.
func NewFFmpegFactory(opts FFmpegOptions) WriterFactory {
	return func(cfg WriterConfig) (MediaWriter, error) {
		return NewFFmpegWriter(cfg, opts)
	}
}

// FFmpegWriter encodes BGRA frames to an H.264 MP4 through an ffmpeg child
// process. Variable frame timing is resampled onto a constant rate: a frame
// covers every output slot until the next frame's slot, and frames landing in
// an already filled slot replace the pending one.
type FFmpegWriter struct {
	cfg    WriterConfig
	fps    int
	frame  int
	logger *slog.Logger
	cancel context.CancelFunc
	enc    Encoder

	queue   chan span
	drained chan struct{}

	mu          sync.Mutex
	pending     []byte
	pendingSlot int64
	written     int64
	writeErr    error
	closed      bool
}

// span is one frame held for count consecutive output slots.
type span struct {
	data  []byte
	count int64
}

// NewFFmpegWriter starts ffmpeg writing to cfg.Path.
func NewFFmpegWriter(cfg WriterConfig, opts FFmpegOptions) (*FFmpegWriter, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("output path must not be empty")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	binary, err := opts.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrEncoderMissing, opts.Binary, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure output directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	enc, err := opts.Launcher(ctx, binary, FFmpegArgs(cfg, opts.Codec, opts.FramesPerSecond))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	w := &FFmpegWriter{
		cfg:     cfg,
		fps:     opts.FramesPerSecond,
		frame:   cfg.Width * cfg.Height * pixel.BytesPerPixel,
		logger:  opts.Logger.With("path", cfg.Path),
		cancel:  cancel,
		enc:     enc,
		queue:   make(chan span, opts.QueueSize),
		drained: make(chan struct{}),
	}
	go w.drain()
	return w, nil
}

// FFmpegArgs builds the encoder command line for raw BGRA input on stdin.
// Odd dimensions are padded to even ones for yuv420p.
func FFmpegArgs(cfg WriterConfig, codec string, fps int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(fps),
		"-i", "-",
		"-an",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		cfg.Path,
	}
}

func (w *FFmpegWriter) drain() {
	defer close(w.drained)
	for item := range w.queue {
		for i := int64(0); i < item.count && w.err() == nil; i++ {
			if _, err := w.enc.Write(item.data); err != nil {
				w.mu.Lock()
				w.writeErr = fmt.Errorf("write frame: %w", err)
				w.mu.Unlock()
			}
		}
	}
}

func (w *FFmpegWriter) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeErr
}

// ReadyForMoreMediaData reports whether the frame queue has room. Each Append
// queues at most one span however many slots it covers, so an Append after a
// true result does not block.
func (w *FFmpegWriter) ReadyForMoreMediaData() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed && w.writeErr == nil && len(w.queue) < cap(w.queue)
}

// Append schedules buf at presentation time pts.
func (w *FFmpegWriter) Append(buf pixel.Buffer, pts time.Duration) error {
	if buf.Width != w.cfg.Width || buf.Height != w.cfg.Height {
		return fmt.Errorf("frame %dx%d does not match writer %dx%d", buf.Width, buf.Height, w.cfg.Width, w.cfg.Height)
	}
	data := buf.Packed()
	slot := w.slot(pts)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("writer closed")
	}
	if w.writeErr != nil {
		err := w.writeErr
		w.mu.Unlock()
		return err
	}
	if w.pending == nil || slot <= w.pendingSlot {
		if w.pending == nil {
			w.pendingSlot = slot
		}
		w.pending = data
		w.mu.Unlock()
		return nil
	}
	repeat := slot - w.pendingSlot
	flush := w.pending
	w.pending = data
	w.pendingSlot = slot
	w.written += repeat
	w.mu.Unlock()

	w.queue <- span{data: flush, count: repeat}
	return nil
}

func (w *FFmpegWriter) slot(pts time.Duration) int64 {
	rel := (pts - w.cfg.Start).Seconds()
	if rel < 0 {
		rel = 0
	}
	return int64(math.Round(rel * float64(w.fps)))
}

// Finish flushes the pending frame, closes the encoder input and waits for
// the encoder to exit.
func (w *FFmpegWriter) Finish(ctx context.Context) (Asset, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Asset{}, errors.New("writer closed")
	}
	w.closed = true
	flush := w.pending
	w.pending = nil
	if flush != nil {
		w.written++
	}
	written := w.written
	w.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		if flush != nil {
			w.queue <- span{data: flush, count: 1}
		}
		close(w.queue)
		<-w.drained
		closeErr := w.enc.Close()
		waitErr := w.enc.Wait()
		switch {
		case w.err() != nil:
			result <- w.err()
		case waitErr != nil:
			result <- fmt.Errorf("encoder exited: %w", waitErr)
		case closeErr != nil:
			result <- fmt.Errorf("close encoder input: %w", closeErr)
		default:
			result <- nil
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case err := <-result:
		w.cancel()
		if err != nil {
			return Asset{}, err
		}
	case <-ctx.Done():
		w.cancel()
		return Asset{}, ctx.Err()
	}

	duration := time.Duration(written) * time.Second / time.Duration(w.fps)
	w.logger.Debug("encoder finished", "frames", written, "duration", duration)
	return Asset{Path: w.cfg.Path, Duration: duration}, nil
}

// Cancel stops the encoder and removes the partial output.
func (w *FFmpegWriter) Cancel() {
	w.mu.Lock()
	wasClosed := w.closed
	w.closed = true
	w.pending = nil
	w.mu.Unlock()

	w.cancel()
	if !wasClosed {
		close(w.queue)
		go func() {
			<-w.drained
			_ = w.enc.Close()
			_ = w.enc.Wait()
			if err := os.Remove(w.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				w.logger.Warn("remove partial recording", "error", err)
			}
		}()
	}
}

type execEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

// ExecLauncher runs the encoder as a child process.
func ExecLauncher(ctx context.Context, binary string, args []string) (Encoder, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execEncoder{cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

func (e *execEncoder) Write(p []byte) (int, error) {
	return e.stdin.Write(p)
}

func (e *execEncoder) Close() error {
	err := e.stdin.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (e *execEncoder) Wait() error {
	if err := e.cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(e.stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
