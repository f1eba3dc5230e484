package video

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Source is a FrameSource that owns a camera or process
type Source interface {
	FrameSource
	io.Closer
}

// SourceConfig carries what a backend needs to open the camera
type SourceConfig struct {
	Backend      string
	Device       string
	InputFormat  string
	Width        int
	Height       int
	Quality      int
	FrameRate    int
	CorruptEvery int
}

// NewSource opens the camera with the configured backend
func NewSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "ffmpeg":
		return NewFFmpegSource(ctx, FFmpegConfig{
			Device:      cfg.Device,
			InputFormat: cfg.InputFormat,
			Width:       cfg.Width,
			Height:      cfg.Height,
			FrameRate:   cfg.FrameRate,
		})
	case "pattern":
		return NewPatternSource(PatternConfig{
			Width:        cfg.Width,
			Height:       cfg.Height,
			Quality:      cfg.Quality,
			FrameRate:    cfg.FrameRate,
			CorruptEvery: cfg.CorruptEvery,
		})
	}
	return nil, fmt.Errorf("unknown video backend: %s", cfg.Backend)
}
