// Package video records framebuffer frames into a video file. A Session is a
// single-use state machine: the first accepted frame opens the media writer,
// later frames are appended at presentation times relative to the stream's
// first-frame instant, and finalize completes on its own goroutine.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

// State is a session lifecycle state.
type State int

const (
	StateUnopened State = iota
	StateRecording
	StateFinalizing
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// DefaultFinishTimeout bounds the writer's finalize step.
const DefaultFinishTimeout = 30 * time.Second

// Options configure a Session.
type Options struct {
	Path string
	// Width and Height fix the frame size; zero takes it from the first frame.
	Width         int
	Height        int
	WriterFactory WriterFactory
	Clock         func() time.Time
	FinishTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Stats is a snapshot of frame counters.
type Stats struct {
	FramesAccepted  uint64
	FramesDropped   uint64
	LastFrameNumber uint64
	LastPTS         time.Duration
}

// Result summarises a session that reached a terminal state.
type Result struct {
	Path           string
	State          State
	Duration       time.Duration
	FramesAccepted uint64
	FramesDropped  uint64
	FPS            float64
	Width          int
	Height         int
}

// Session records one video file.
type Session struct {
	path          string
	width         int
	height        int
	factory       WriterFactory
	clock         func() time.Time
	finishTimeout time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	mu      sync.Mutex
	state   State
	err     error
	writer  MediaWriter
	origin  time.Time
	hasLast bool
	stats   Stats
	result  Result
	done    chan struct{}
}

// NewSession validates opts and returns an unopened session.
func NewSession(opts Options) (*Session, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("video: path must not be empty")
	}
	if opts.WriterFactory == nil {
		return nil, errors.New("video: writer factory must not be nil")
	}
	if opts.Width < 0 || opts.Height < 0 || (opts.Width == 0) != (opts.Height == 0) {
		return nil, fmt.Errorf("video: invalid dimensions %dx%d", opts.Width, opts.Height)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	finishTimeout := opts.FinishTimeout
	if finishTimeout <= 0 {
		finishTimeout = DefaultFinishTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		path:          path,
		width:         opts.Width,
		height:        opts.Height,
		factory:       opts.WriterFactory,
		clock:         clock,
		finishTimeout: finishTimeout,
		logger:        logger.With("path", path),
		metrics:       opts.Metrics,
		done:          make(chan struct{}),
	}, nil
}

// Path returns the destination file.
func (s *Session) Path() string {
	return s.path
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure cause once the session is Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the current frame counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Append offers a frame. timeAtFirstFrame is the instant the stream delivered
// its first frame; the frame's presentation time is the clock's distance from
// it. It reports whether the frame was accepted. Dropped frames return false
// with a nil error; an error means the session is closed or has failed.
func (s *Session) Append(buf pixel.Buffer, timeAtFirstFrame time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateFinalizing, StateFinalized:
		return false, ErrSessionClosed
	case StateFailed:
		return false, fmt.Errorf("%w: %w", ErrSessionClosed, s.err)
	}

	if err := buf.Validate(); err != nil {
		s.drop(OutcomeInvalidBuffer)
		s.logger.Debug("frame dropped", "reason", OutcomeInvalidBuffer, "error", err)
		return false, nil
	}

	now := s.clock()
	if s.state == StateUnopened {
		if err := s.open(buf, timeAtFirstFrame, now); err != nil {
			s.fail(err)
			return false, err
		}
	}

	pts := now.Sub(s.origin)
	switch {
	case buf.Width != s.width || buf.Height != s.height:
		s.drop(OutcomeSizeMismatch)
		return false, nil
	case !s.writer.ReadyForMoreMediaData():
		s.drop(OutcomeNotReady)
		return false, nil
	case s.hasLast && pts < s.stats.LastPTS:
		s.drop(OutcomeOutOfOrder)
		return false, nil
	}

	if err := s.writer.Append(buf, pts); err != nil {
		err = fmt.Errorf("video: append frame: %w", err)
		s.writer.Cancel()
		s.fail(err)
		return false, err
	}
	s.hasLast = true
	s.stats.LastPTS = pts
	s.stats.FramesAccepted++
	s.metrics.frame(OutcomeAccepted)
	return true, nil
}

func (s *Session) open(buf pixel.Buffer, origin, now time.Time) error {
	if origin.IsZero() {
		return fmt.Errorf("%w: zero first-frame time", ErrInvalidTiming)
	}
	start := now.Sub(origin)
	if start < 0 {
		return fmt.Errorf("%w: first frame %s in the future", ErrInvalidTiming, -start)
	}
	if s.width == 0 {
		s.width, s.height = buf.Width, buf.Height
	}
	writer, err := s.factory(WriterConfig{Path: s.path, Width: s.width, Height: s.height, Start: start})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriterUnavailable, err)
	}
	if writer == nil {
		return fmt.Errorf("%w: factory returned no writer", ErrWriterUnavailable)
	}
	s.writer = writer
	s.origin = origin
	s.state = StateRecording
	s.logger.Info("recording started", "width", s.width, "height", s.height, "start", start)
	return nil
}

// ConsumePixelBuffer adapts the session to a framebuffer stream.
func (s *Session) ConsumePixelBuffer(buf pixel.Buffer, frameNumber uint64, timeAtFirstFrame time.Time) error {
	s.mu.Lock()
	if frameNumber > s.stats.LastFrameNumber {
		s.stats.LastFrameNumber = frameNumber
	}
	s.mu.Unlock()
	_, err := s.Append(buf, timeAtFirstFrame)
	return err
}

// ConsumeEndOfStream begins finalizing.
func (s *Session) ConsumeEndOfStream() {
	s.Finish()
}

// Finish begins finalizing and returns a channel closed once the session is
// terminal. It is safe to call more than once. A session that never accepted
// a frame fails with ErrNoFrames.
func (s *Session) Finish() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnopened:
		s.fail(ErrNoFrames)
	case StateRecording:
		if s.stats.FramesAccepted == 0 {
			s.writer.Cancel()
			s.fail(ErrNoFrames)
			break
		}
		s.state = StateFinalizing
		s.logger.Debug("finalizing", "frames", s.stats.FramesAccepted)
		go s.finalize(s.writer)
	}
	return s.done
}

func (s *Session) finalize(writer MediaWriter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.finishTimeout)
	defer cancel()
	asset, err := writer.Finish(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fail(fmt.Errorf("video: finish writer: %w", err))
		return
	}
	if asset.Path != "" {
		s.path = asset.Path
	}
	s.result = s.snapshot(StateFinalized)
	s.result.Duration = asset.Duration
	if asset.Duration > 0 {
		s.result.FPS = float64(s.stats.FramesAccepted) / asset.Duration.Seconds()
	}
	s.state = StateFinalized
	s.metrics.terminal(StateFinalized, asset.Duration.Seconds())
	s.logger.Info("recording finalized",
		"frames", s.result.FramesAccepted,
		"dropped", s.result.FramesDropped,
		"duration", asset.Duration,
		"fps", s.result.FPS,
	)
	close(s.done)
}

// Wait blocks until the session is terminal or ctx ends. A Failed session
// returns its cause alongside the partial result.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Done is closed once the session is terminal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) drop(outcome string) {
	s.stats.FramesDropped++
	s.metrics.frame(outcome)
}

// fail moves the session to Failed. Callers hold mu.
func (s *Session) fail(err error) {
	if s.state.Terminal() {
		return
	}
	s.state = StateFailed
	s.err = err
	s.result = s.snapshot(StateFailed)
	s.metrics.terminal(StateFailed, 0)
	s.logger.Error("recording failed", "frames", s.stats.FramesAccepted, "error", err)
	close(s.done)
}

func (s *Session) snapshot(state State) Result {
	return Result{
		Path:           s.path,
		State:          state,
		FramesAccepted: s.stats.FramesAccepted,
		FramesDropped:  s.stats.FramesDropped,
		Width:          s.width,
		Height:         s.height,
	}
}
