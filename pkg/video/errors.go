package video

import "errors"

var (
	// ErrNoFrames is the failure cause of a session finalized before any frame was accepted.
	ErrNoFrames = errors.New("video: no frames recorded")
	// ErrSessionClosed is returned when frames arrive after finalize began.
	ErrSessionClosed = errors.New("video: session closed")
	// ErrWriterUnavailable wraps failures to open the media writer.
	ErrWriterUnavailable = errors.New("video: media writer unavailable")
	// ErrInvalidTiming is returned when a first frame carries an unusable origin time.
	ErrInvalidTiming = errors.New("video: invalid frame timing")
	// ErrEncoderMissing indicates the ffmpeg binary could not be located.
	ErrEncoderMissing = errors.New("video: ffmpeg encoder not found")
)
