package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/recorder"
	"github.com/audiolibrelab/fieldcapture/internal/wire"
)

// Validate rejects settings the recorder cannot run with
func (c *Config) Validate() error {
	if err := c.Trigger.validate(); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if err := c.Audio.validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.Video.Enabled {
		if err := c.Video.validate(); err != nil {
			return fmt.Errorf("video: %w", err)
		}
	}
	if err := c.Storage.validate(c.Video.Enabled); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Display.validate(); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if c.StatePoll <= 0 {
		return fmt.Errorf("state_poll must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be > 0, got %s", name, d)
	}
	return nil
}

func (t TriggerConfig) validate() error {
	for name, d := range map[string]time.Duration{
		"poll_interval":   t.PollInterval,
		"debounce":        t.Debounce,
		"long_press":      t.LongPress,
		"remote_debounce": t.RemoteDebounce,
	} {
		if err := positive(name, d); err != nil {
			return err
		}
	}
	if t.Debounce >= t.LongPress {
		return fmt.Errorf("debounce (%s) must be shorter than long_press (%s)", t.Debounce, t.LongPress)
	}
	if _, err := wire.ParsePrefix(t.Prefix); err != nil {
		return fmt.Errorf("prefix: %w", err)
	}
	return nil
}

func (a AudioConfig) validate() error {
	switch strings.ToLower(a.Backend) {
	case "auto", "malgo", "pipewire", "tone":
	default:
		return fmt.Errorf("unknown backend %q", a.Backend)
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be > 0")
	}
	switch a.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bits_per_sample must be 8, 16, 24 or 32, got %d", a.BitsPerSample)
	}
	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", a.Channels)
	}
	if a.ChunkSamples <= 0 {
		return fmt.Errorf("chunk_samples must be > 0")
	}
	if err := positive("read_timeout", a.ReadTimeout); err != nil {
		return err
	}
	if err := positive("checkpoint_interval", a.CheckpointInterval); err != nil {
		return err
	}
	if a.MaxDuration < 0 {
		return fmt.Errorf("max_duration must not be negative")
	}
	return nil
}

func (v VideoConfig) validate() error {
	switch strings.ToLower(v.Backend) {
	case "ffmpeg":
		if v.Device == "" {
			return fmt.Errorf("device is required for the ffmpeg backend")
		}
	case "pattern":
	default:
		return fmt.Errorf("unknown backend %q", v.Backend)
	}
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", v.Width, v.Height)
	}
	if v.JPEGQuality < 1 || v.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100")
	}
	if err := positive("acquire_timeout", v.AcquireTimeout); err != nil {
		return err
	}
	if err := positive("retry_backoff", v.RetryBackoff); err != nil {
		return err
	}
	if v.FlushBytes <= 0 {
		return fmt.Errorf("flush_bytes must be > 0")
	}
	return nil
}

func (s StorageConfig) validate(video bool) error {
	switch strings.ToLower(s.Backend) {
	case "directory":
	case "gadget":
		if s.BlockDevice == "" || s.GadgetLun == "" {
			return fmt.Errorf("gadget backend needs block_device and gadget_lun")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.MountPoint == "" {
		return fmt.Errorf("mount_point is required")
	}
	if err := positive("mount_timeout", s.MountTimeout); err != nil {
		return err
	}
	if err := positive("mount_poll", s.MountPoll); err != nil {
		return err
	}
	if err := recorder.ValidatePattern(s.AudioPattern); err != nil {
		return err
	}
	if video {
		if err := recorder.ValidatePattern(s.VideoPattern); err != nil {
			return err
		}
	}
	return nil
}

func (d DisplayConfig) validate() error {
	switch strings.ToLower(d.Backend) {
	case "log":
	case "file":
		if d.Path == "" {
			return fmt.Errorf("path is required for the file display")
		}
	default:
		return fmt.Errorf("unknown backend %q", d.Backend)
	}
	return positive("refresh", d.Refresh)
}
