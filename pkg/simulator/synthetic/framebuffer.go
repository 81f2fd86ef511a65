package synthetic

import (
	"context"

	"github.com/offlinefirst/simdrive/pkg/pixel"
	"github.com/offlinefirst/simdrive/pkg/simulator"
)

// DefaultFramesPerSecond is used when a stream is requested without a rate.
const DefaultFramesPerSecond = 30

type framebuffer struct {
	sim *Simulator
}

func (f *framebuffer) Snapshot(ctx context.Context) (pixel.Buffer, error) {
	if err := f.sim.delay(ctx); err != nil {
		return pixel.Buffer{}, err
	}
	return gradient(f.sim.opts.Width, f.sim.opts.Height, 0), nil
}

func (f *framebuffer) Stream(cfg simulator.StreamConfig) (simulator.VideoStream, error) {
	fps := cfg.FramesPerSecond
	if fps <= 0 {
		fps = DefaultFramesPerSecond
	}
	grab := func(_ context.Context, frame uint64) (pixel.Buffer, error) {
		return gradient(f.sim.opts.Width, f.sim.opts.Height, frame), nil
	}
	return simulator.NewPollingStream(fps, f.sim.opts.Clock, grab, nil), nil
}
