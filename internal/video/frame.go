package video

import (
	"bytes"
	"errors"
	"log/slog"
	"time"
)

// ErrNoFrame is returned when no frame arrived within the acquire timeout
var ErrNoFrame = errors.New("video: no frame available")

// ErrSourceClosed is returned once a frame source has been shut down
var ErrSourceClosed = errors.New("video: source closed")

var (
	startMarker = []byte{0xFF, 0xD8}
	endMarker   = []byte{0xFF, 0xD9}
)

// Frame is one compressed image borrowed from a FrameSource
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// FrameSource is the acquisition contract of the camera.
// Every frame returned by AcquireFrame must be handed back with ReleaseFrame.
type FrameSource interface {
	AcquireFrame(timeout time.Duration) (*Frame, error)
	ReleaseFrame(f *Frame)
}

// ValidFrame reports whether data is bracketed by the JPEG start and end markers
func ValidFrame(data []byte) bool {
	return len(data) >= len(startMarker)+len(endMarker) &&
		bytes.HasPrefix(data, startMarker) &&
		bytes.HasSuffix(data, endMarker)
}

// Warmup discards the first n frames while the sensor settles exposure.
// It returns the number of frames actually discarded.
func Warmup(src FrameSource, n int, timeout time.Duration) int {
	discarded := 0
	for attempts := 0; discarded < n && attempts < 2*n; attempts++ {
		f, err := src.AcquireFrame(timeout)
		if err != nil {
			continue
		}
		src.ReleaseFrame(f)
		discarded++
	}
	if discarded < n {
		slog.Warn("Camera warm-up incomplete", "discarded", discarded, "wanted", n)
	}
	return discarded
}
