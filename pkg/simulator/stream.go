package simulator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

// GrabFunc produces the frame for one tick of a PollingStream.
type GrabFunc func(ctx context.Context, frameNumber uint64) (pixel.Buffer, error)

// PollingStream is a VideoStream that grabs a frame on every tick of a fixed
// interval. Grab errors skip the tick; a consumer error ends the stream.
type PollingStream struct {
	interval time.Duration
	clock    func() time.Time
	grab     GrabFunc
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPollingStream builds a stream ticking fps times per second.
func NewPollingStream(fps int, clock func() time.Time, grab GrabFunc, logger *slog.Logger) *PollingStream {
	if fps <= 0 {
		fps = 30
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PollingStream{
		interval: time.Second / time.Duration(fps),
		clock:    clock,
		grab:     grab,
		logger:   logger,
	}
}

// Start begins delivering frames to consumer.
func (s *PollingStream) Start(ctx context.Context, consumer PixelConsumer) error {
	if consumer == nil {
		return errors.New("simulator: consumer must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("simulator: stream already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, consumer)
	return nil
}

func (s *PollingStream) run(ctx context.Context, consumer PixelConsumer) {
	defer close(s.done)
	defer consumer.ConsumeEndOfStream()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		frame uint64
		first time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}
		buf, err := s.grab(ctx, frame)
		if err != nil {
			s.logger.Warn("frame grab failed", "frame", frame, "error", err)
			continue
		}
		if frame == 0 {
			first = s.clock()
		}
		if err := consumer.ConsumePixelBuffer(buf, frame, first); err != nil {
			s.logger.Debug("consumer closed stream", "frame", frame, "error", err)
			return
		}
		frame++
	}
}

// Stop ends the stream and waits for end-of-stream delivery. Stopping a
// stream that never started is a no-op.
func (s *PollingStream) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	done := s.done
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
