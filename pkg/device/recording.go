package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/offlinefirst/simdrive/pkg/capturepath"
	"github.com/offlinefirst/simdrive/pkg/catalog"
	"github.com/offlinefirst/simdrive/pkg/pixel"
	"github.com/offlinefirst/simdrive/pkg/screenshot"
	"github.com/offlinefirst/simdrive/pkg/simulator"
	"github.com/offlinefirst/simdrive/pkg/video"
)

// ErrRecordingActive is returned when a recording is started while another
// one on the same session has not finished.
var ErrRecordingActive = errors.New("device: recording already active")

// RecordOptions configure one recording.
type RecordOptions struct {
	// Path defaults to a timestamped file in the recording directory.
	Path string
	// Duration stops the recording automatically when positive.
	Duration        time.Duration
	FramesPerSecond int
}

// Recording is an in-progress framebuffer capture.
type Recording struct {
	session *video.Session
	stream  simulator.VideoStream
	timer   *time.Timer
	done    chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// StartRecording streams the framebuffer into a new video file until Stop
// is called or opts.Duration elapses.
func (s *Session) StartRecording(ctx context.Context, opts RecordOptions) (*Recording, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	if s.active != nil {
		select {
		case <-s.active.done:
		default:
			return nil, ErrRecordingActive
		}
	}

	fps := opts.FramesPerSecond
	if fps <= 0 {
		fps = s.opts.Recording.FramesPerSecond
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = capturepath.Make(s.opts.Recording.Dir, "Recording", "mp4", s.device.Name, s.opts.Clock())
	}
	factory := s.opts.Recording.WriterFactory
	if factory == nil {
		enc := s.opts.Recording.Encoder
		enc.FramesPerSecond = fps
		if enc.Logger == nil {
			enc.Logger = s.logger
		}
		factory = video.NewFFmpegFactory(enc)
	}

	fb, err := s.connectFramebuffer(ctx)
	if err != nil {
		return nil, err
	}
	session, err := video.NewSession(video.Options{
		Path:          path,
		Width:         s.opts.Recording.Width,
		Height:        s.opts.Recording.Height,
		WriterFactory: factory,
		Clock:         s.opts.Clock,
		FinishTimeout: s.opts.Recording.FinishTimeout,
		Logger:        s.logger,
		Metrics:       s.opts.Recording.Metrics,
	})
	if err != nil {
		return nil, err
	}
	stream, err := fb.Stream(simulator.StreamConfig{FramesPerSecond: fps})
	if err != nil {
		return nil, fmt.Errorf("open video stream: %w", err)
	}
	if err := stream.Start(context.Background(), session); err != nil {
		return nil, fmt.Errorf("start video stream: %w", err)
	}

	rec := &Recording{session: session, stream: stream, done: make(chan struct{})}
	if opts.Duration > 0 {
		rec.timer = time.AfterFunc(opts.Duration, func() {
			_ = rec.stop(context.Background())
		})
	}
	go s.track(rec)
	s.active = rec
	s.logger.Info("recording", "path", path, "fps", fps, "duration", opts.Duration)
	return rec, nil
}

func (s *Session) track(rec *Recording) {
	<-rec.session.Done()
	// A session that failed on its own still holds the stream open.
	_ = rec.stop(context.Background())
	defer close(rec.done)

	if s.opts.Catalog == nil {
		return
	}
	result, err := rec.session.Wait(context.Background())
	entry := catalog.Entry{
		Kind:           catalog.KindRecording,
		DeviceUDID:     s.device.UDID,
		DeviceName:     s.device.Name,
		Path:           rec.session.Path(),
		State:          rec.session.State().String(),
		FramesAccepted: result.FramesAccepted,
		FramesDropped:  result.FramesDropped,
		Duration:       result.Duration,
		FPS:            result.FPS,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if _, err := s.opts.Catalog.Add(context.Background(), entry); err != nil {
		s.logger.Warn("catalog recording", "path", entry.Path, "error", err)
	}
}

func (r *Recording) stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		r.stopErr = r.stream.Stop(ctx)
		r.session.Finish()
	})
	return r.stopErr
}

// Stop ends the stream and waits for the file to be finalized.
func (r *Recording) Stop(ctx context.Context) (video.Result, error) {
	if err := r.stop(ctx); err != nil {
		return video.Result{}, fmt.Errorf("stop video stream: %w", err)
	}
	return r.Wait(ctx)
}

// Wait blocks until the recording has finished and been catalogued.
func (r *Recording) Wait(ctx context.Context) (video.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return video.Result{}, ctx.Err()
	}
	return r.session.Wait(ctx)
}

// Done is closed once the recording has finished.
func (r *Recording) Done() <-chan struct{} {
	return r.done
}

// Path returns the output file.
func (r *Recording) Path() string {
	return r.session.Path()
}

// Stats returns live frame counters.
func (r *Recording) Stats() video.Stats {
	return r.session.Stats()
}

// State returns the recorder state.
func (r *Recording) State() video.State {
	return r.session.State()
}

// Screenshot writes the current framebuffer to path, or to a timestamped file
// in the screenshot directory when path is empty.
func (s *Session) Screenshot(ctx context.Context, path string) (screenshot.Result, error) {
	fb, err := s.connectFramebuffer(ctx)
	if err != nil {
		return screenshot.Result{}, err
	}
	buf, err := simulator.Await(ctx, s.opts.FramebufferTimeout, "framebuffer snapshot", fb.Snapshot)
	if err != nil {
		return screenshot.Result{}, err
	}
	now := s.opts.Clock()
	if strings.TrimSpace(path) == "" {
		path = capturepath.Make(s.opts.ScreenshotDir, "Screenshot", "png", s.device.Name, now)
	}
	meta := s.screenshotMetadata()
	meta.CapturedAt = now
	res, err := screenshot.Save(buf, path, meta)
	if err != nil {
		return screenshot.Result{}, err
	}
	s.catalogScreenshot(ctx, res)
	return res, nil
}

// ScreenshotSeries captures count screenshots interval apart into the
// screenshot directory. Images captured before a failure are kept and
// returned with the error.
func (s *Session) ScreenshotSeries(ctx context.Context, count int, interval time.Duration) ([]screenshot.Result, error) {
	fb, err := s.connectFramebuffer(ctx)
	if err != nil {
		return nil, err
	}
	started := s.opts.Clock()
	results, err := screenshot.Series(ctx, func(ctx context.Context) (pixel.Buffer, error) {
		return simulator.Await(ctx, s.opts.FramebufferTimeout, "framebuffer snapshot", fb.Snapshot)
	}, screenshot.SeriesOptions{
		Count:    count,
		Interval: interval,
		Path: func(i int) string {
			prefix := fmt.Sprintf("Screenshot_%03d", i+1)
			return capturepath.Make(s.opts.ScreenshotDir, prefix, "png", s.device.Name, started)
		},
		Metadata: s.screenshotMetadata(),
		Clock:    s.opts.Clock,
		Sleeper:  s.opts.Sleeper,
	})
	for _, res := range results {
		s.catalogScreenshot(ctx, res)
	}
	return results, err
}

func (s *Session) screenshotMetadata() screenshot.Metadata {
	return screenshot.Metadata{
		Backend:    s.opts.Backend,
		DeviceUDID: s.device.UDID,
		DeviceName: s.device.Name,
	}
}

func (s *Session) catalogScreenshot(ctx context.Context, res screenshot.Result) {
	s.logger.Info("screenshot", "path", res.ImagePath)
	if s.opts.Catalog == nil {
		return
	}
	if _, err := s.opts.Catalog.Add(ctx, catalog.Entry{
		Kind:       catalog.KindScreenshot,
		DeviceUDID: s.device.UDID,
		DeviceName: s.device.Name,
		Path:       res.ImagePath,
		State:      "saved",
		CreatedAt:  res.Metadata.CapturedAt,
	}); err != nil {
		s.logger.Warn("catalog screenshot", "path", res.ImagePath, "error", err)
	}
}
