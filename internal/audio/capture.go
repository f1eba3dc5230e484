package audio

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/fieldcapture/internal/state"
)

// LoopConfig is owned by one capture run
type LoopConfig struct {
	Fs     afero.Fs
	Path   string
	Source SampleSource
	State  state.Reader
	Format Format

	ChunkSamples       int
	ReadTimeout        time.Duration
	CheckpointInterval time.Duration

	// MaxDuration stops the capture once this much audio is written.
	// Zero runs until the recorder leaves the recording/paused states.
	MaxDuration time.Duration
}

// StopReason tells why a capture run ended
type StopReason string

const (
	StopStateIdle     StopReason = "state"
	StopDuration      StopReason = "duration"
	StopContainerFull StopReason = "container_full"
	StopError         StopReason = "error"
)

// Result summarizes a capture run
type Result struct {
	Path        string        `json:"path" yaml:"path"`
	DataBytes   int64         `json:"data_bytes" yaml:"data_bytes"`
	PausedBytes int64         `json:"paused_bytes" yaml:"paused_bytes"`
	Checkpoints int           `json:"checkpoints" yaml:"checkpoints"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Reason      StopReason    `json:"reason" yaml:"reason"`
}

// Seconds returns the whole seconds of audio captured
func (r Result) Seconds() int {
	return int(r.Duration / time.Second)
}

func (c *LoopConfig) validate() error {
	if c.Fs == nil || c.Source == nil || c.State == nil {
		return fmt.Errorf("capture needs a filesystem, a sample source and a state reader")
	}
	if c.Path == "" {
		return fmt.Errorf("capture path is required")
	}
	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("invalid audio format: %w", err)
	}
	if c.ChunkSamples <= 0 {
		return fmt.Errorf("chunk samples must be > 0, got %d", c.ChunkSamples)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be > 0")
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpoint interval must be > 0")
	}
	return nil
}

// Capture records audio into a WAV file at cfg.Path.
//
// The header is written with a zero length, then rewritten in place after every
// checkpoint interval of audio so that a file cut short by power loss still
// declares exactly the samples that reached storage. While paused the samples
// are replaced by silence so timing and file length are preserved.
//
// Every exit path closes the file with a header matching the last successful chunk.
func Capture(cfg LoopConfig) (res Result, err error) {
	res.Path = cfg.Path
	res.Reason = StopError
	if err := cfg.validate(); err != nil {
		return res, err
	}

	blockAlign := cfg.Format.BlockAlign()
	buf := make([]byte, cfg.ChunkSamples*blockAlign)

	f, err := cfg.Fs.OpenFile(cfg.Path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return res, fmt.Errorf("failed to open %s for audio capture: %w", cfg.Path, err)
	}

	var data int64
	defer func() {
		res.DataBytes = data
		res.Duration = time.Duration(cfg.Format.Duration(data) * float64(time.Second))
		err = multierr.Combine(err,
			RewriteHeader(f, cfg.Format, uint32(data)),
			f.Sync(),
			f.Close())
		if err != nil {
			slog.Error("Audio capture ended with error", "path", cfg.Path, "bytes", data, "error", err)
			return
		}
		slog.Info("Audio capture finished", "path", cfg.Path, "seconds", res.Seconds(), "reason", res.Reason)
	}()

	if err := WriteHeader(f, cfg.Format, 0); err != nil {
		return res, fmt.Errorf("failed to write placeholder header: %w", err)
	}

	limit := int64(-1)
	if cfg.MaxDuration > 0 {
		limit = int64(cfg.MaxDuration.Seconds() * float64(cfg.Format.ByteRate()))
		limit -= limit % int64(blockAlign)
		if limit < int64(blockAlign) {
			limit = int64(blockAlign)
		}
	}

	checkpointBytes := int64(cfg.CheckpointInterval.Seconds() * float64(cfg.Format.ByteRate()))
	if checkpointBytes < int64(len(buf)) {
		checkpointBytes = int64(len(buf))
	}
	nextCheckpoint := checkpointBytes
	pending := 0

	slog.Info("Audio capture started", "path", cfg.Path, "rate", cfg.Format.SampleRate,
		"bits", cfg.Format.BitsPerSample, "channels", cfg.Format.Channels, "limit", cfg.MaxDuration)

	for {
		if limit < 0 && !cfg.State.Current().Active() {
			res.Reason = StopStateIdle
			return res, nil
		}
		if limit >= 0 && data >= limit {
			res.Reason = StopDuration
			return res, nil
		}

		want := int64(len(buf))
		if limit >= 0 && limit-data < want {
			want = limit - data
		}
		if data+want > maxDataBytes {
			slog.Warn("Audio container is full, stopping capture", "path", cfg.Path, "bytes", data)
			res.Reason = StopContainerFull
			return res, nil
		}

		// a partial frame left by the previous read stays at the front of buf
		got, err := cfg.Source.ReadSamples(buf[pending:want], cfg.ReadTimeout)
		if err != nil {
			return res, fmt.Errorf("audio read failed after %d bytes: %w", data, err)
		}
		total := pending + got
		n := total - total%blockAlign
		if n == 0 {
			pending = total
			continue
		}

		chunk := buf[:n]
		if cfg.State.Current() == state.Paused {
			clear(chunk)
			res.PausedBytes += int64(n)
		}

		if _, err := f.Write(chunk); err != nil {
			return res, fmt.Errorf("failed to write audio samples: %w", err)
		}
		data += int64(n)
		pending = copy(buf, buf[n:total])

		if data >= nextCheckpoint {
			if err := checkpoint(f, cfg.Format, data); err != nil {
				return res, err
			}
			res.Checkpoints++
			nextCheckpoint += checkpointBytes
			slog.Debug("Audio checkpoint", "path", cfg.Path, "bytes", data)
		}
	}
}

// checkpoint flushes the samples, then declares them in the header
func checkpoint(f afero.File, format Format, data int64) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to flush audio samples: %w", err)
	}
	if err := RewriteHeader(f, format, uint32(data)); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to flush audio header: %w", err)
	}
	return nil
}
