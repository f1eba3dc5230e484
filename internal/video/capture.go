package video

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/fieldcapture/internal/state"
)

const (
	// DefaultFlushBytes is how much is appended between syncs
	DefaultFlushBytes = 4 << 20

	logEvery = 50
)

// LoopConfig is owned by one capture run
type LoopConfig struct {
	Fs     afero.Fs
	Path   string
	Source FrameSource
	State  state.Reader

	// Placeholder is written in place of live frames while paused.
	// When nil, live frames keep being written during a pause.
	Placeholder []byte

	AcquireTimeout time.Duration
	RetryBackoff   time.Duration
	FlushBytes     int64
}

// Result summarizes a video capture run
type Result struct {
	Path          string `json:"path" yaml:"path"`
	FramesWritten int64  `json:"frames_written" yaml:"frames_written"`
	FramesDropped int64  `json:"frames_dropped" yaml:"frames_dropped"`
	Placeholders  int64  `json:"placeholders" yaml:"placeholders"`
	Bytes         int64  `json:"bytes" yaml:"bytes"`
	Flushes       int    `json:"flushes" yaml:"flushes"`
}

// Stats is a live snapshot of a running loop
type Stats struct {
	Written      int64
	Dropped      int64
	Placeholders int64
	Missed       int64
	Bytes        int64
}

// Loop appends frames to one container file until the recorder goes idle
type Loop struct {
	cfg LoopConfig

	written      *atomic.Int64
	dropped      *atomic.Int64
	placeholders *atomic.Int64
	missed       *atomic.Int64
	bytes        *atomic.Int64
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = DefaultFlushBytes
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	return &Loop{
		cfg:          cfg,
		written:      atomic.NewInt64(0),
		dropped:      atomic.NewInt64(0),
		placeholders: atomic.NewInt64(0),
		missed:       atomic.NewInt64(0),
		bytes:        atomic.NewInt64(0),
	}
}

// Capture runs a fresh Loop to completion
func Capture(cfg LoopConfig) (Result, error) {
	return NewLoop(cfg).Run()
}

func (l *Loop) Stats() Stats {
	return Stats{
		Written:      l.written.Load(),
		Dropped:      l.dropped.Load(),
		Placeholders: l.placeholders.Load(),
		Missed:       l.missed.Load(),
		Bytes:        l.bytes.Load(),
	}
}

func (l *Loop) result() Result {
	return Result{
		Path:          l.cfg.Path,
		FramesWritten: l.written.Load(),
		FramesDropped: l.dropped.Load(),
		Placeholders:  l.placeholders.Load(),
		Bytes:         l.bytes.Load(),
	}
}

// Run captures until the recorder leaves the recording/paused states.
// Missing and malformed frames never end the run; only output I/O faults do.
func (l *Loop) Run() (res Result, err error) {
	cfg := l.cfg
	if cfg.Fs == nil || cfg.Source == nil || cfg.State == nil || cfg.Path == "" {
		return Result{Path: cfg.Path}, fmt.Errorf("video capture needs a filesystem, path, frame source and state reader")
	}

	f, err := cfg.Fs.OpenFile(cfg.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return Result{Path: cfg.Path}, fmt.Errorf("failed to open %s for video capture: %w", cfg.Path, err)
	}

	flushes := 0
	defer func() {
		err = multierr.Combine(err, f.Sync(), f.Close())
		res = l.result()
		res.Flushes = flushes + 1
		if err != nil {
			slog.Error("Video capture ended with error", "path", cfg.Path, "frames", res.FramesWritten, "error", err)
			return
		}
		slog.Info("Video capture finished", "path", cfg.Path, "frames", res.FramesWritten,
			"dropped", res.FramesDropped, "placeholders", res.Placeholders, "bytes", res.Bytes)
	}()

	slog.Info("Video capture started", "path", cfg.Path, "placeholder", cfg.Placeholder != nil)

	var unflushed int64
	for cfg.State.Current().Active() {
		frame, err := cfg.Source.AcquireFrame(cfg.AcquireTimeout)
		if err != nil {
			if missed := l.missed.Inc(); missed%logEvery == 1 && !errors.Is(err, ErrNoFrame) {
				slog.Warn("Frame acquisition failed", "error", err, "missed", missed)
			}
			time.Sleep(cfg.RetryBackoff)
			continue
		}

		data := frame.Data
		placeholder := cfg.Placeholder != nil && cfg.State.Current() == state.Paused
		if placeholder {
			data = cfg.Placeholder
		} else if !ValidFrame(data) {
			cfg.Source.ReleaseFrame(frame)
			if dropped := l.dropped.Inc(); dropped%logEvery == 1 {
				slog.Warn("Dropping frame with bad markers", "path", cfg.Path, "size", len(data), "dropped", dropped)
			}
			continue
		}

		n, werr := f.Write(data)
		cfg.Source.ReleaseFrame(frame)
		l.bytes.Add(int64(n))
		if werr != nil {
			return res, fmt.Errorf("failed to write video frame: %w", werr)
		}
		unflushed += int64(n)

		if placeholder {
			l.placeholders.Inc()
		} else if written := l.written.Inc(); written%logEvery == 0 {
			slog.Debug("Video progress", "path", cfg.Path, "frames", written, "bytes", l.bytes.Load())
		}

		if unflushed >= cfg.FlushBytes {
			if err := f.Sync(); err != nil {
				return res, fmt.Errorf("failed to flush video file: %w", err)
			}
			flushes++
			unflushed = 0
		}
	}
	return res, nil
}
