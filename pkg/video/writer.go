package video

import (
	"context"
	"time"

	"github.com/offlinefirst/simdrive/pkg/pixel"
)

// WriterConfig describes the asset a MediaWriter produces.
type WriterConfig struct {
	Path   string
	Width  int
	Height int
	// Start is the presentation time of the first frame.
	Start time.Duration
}

// Asset is a finished media file.
type Asset struct {
	Path     string
	Duration time.Duration
}

// MediaWriter encodes frames into a container file.
type MediaWriter interface {
	ReadyForMoreMediaData() bool
	Append(buf pixel.Buffer, pts time.Duration) error
	Finish(ctx context.Context) (Asset, error)
	// Cancel releases resources without producing an asset.
	Cancel()
}

// WriterFactory opens a MediaWriter for a session.
type WriterFactory func(cfg WriterConfig) (MediaWriter, error)
