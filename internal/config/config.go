package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/audiolibrelab/fieldcapture/internal/wire"
)

// EnvPrefix prefixes environment overrides, e.g. FIELDCAPTURE_AUDIO_BACKEND
const EnvPrefix = "FIELDCAPTURE"

type Config struct {
	Trigger   TriggerConfig `mapstructure:"trigger" yaml:"trigger"`
	Audio     AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Video     VideoConfig   `mapstructure:"video" yaml:"video"`
	Storage   StorageConfig `mapstructure:"storage" yaml:"storage"`
	Display   DisplayConfig `mapstructure:"display" yaml:"display"`
	Advert    AdvertConfig  `mapstructure:"advert" yaml:"advert"`
	Server    ServerConfig  `mapstructure:"server" yaml:"server"`
	StatePoll time.Duration `mapstructure:"state_poll" yaml:"state_poll"`
	LogLevel  string        `mapstructure:"log_level" yaml:"log_level"`
}

type TriggerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
	LongPress      time.Duration `mapstructure:"long_press" yaml:"long_press"`
	RemoteDebounce time.Duration `mapstructure:"remote_debounce" yaml:"remote_debounce"`
	Prefix         string        `mapstructure:"prefix" yaml:"prefix"` // 16 hex digits
	Signal         string        `mapstructure:"signal" yaml:"signal"` // sysfs value file of the button, empty disables
	ActiveLow      bool          `mapstructure:"active_low" yaml:"active_low"`
}

type AudioConfig struct {
	Backend            string        `mapstructure:"backend" yaml:"backend"` // "malgo", "pipewire", "tone", "auto"
	Target             string        `mapstructure:"target" yaml:"target"`
	SampleRate         int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	BitsPerSample      int           `mapstructure:"bits_per_sample" yaml:"bits_per_sample"`
	Channels           int           `mapstructure:"channels" yaml:"channels"`
	ChunkSamples       int           `mapstructure:"chunk_samples" yaml:"chunk_samples"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
	MaxDuration        time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	BufferSeconds      int           `mapstructure:"buffer_seconds" yaml:"buffer_seconds"`
	ToneFrequency      float64       `mapstructure:"tone_frequency" yaml:"tone_frequency"`
}

type VideoConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend        string        `mapstructure:"backend" yaml:"backend"` // "ffmpeg", "pattern"
	Device         string        `mapstructure:"device" yaml:"device"`
	InputFormat    string        `mapstructure:"input_format" yaml:"input_format"`
	Width          int           `mapstructure:"width" yaml:"width"`
	Height         int           `mapstructure:"height" yaml:"height"`
	FrameRate      int           `mapstructure:"frame_rate" yaml:"frame_rate"`
	JPEGQuality    int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	FlushBytes     int64         `mapstructure:"flush_bytes" yaml:"flush_bytes"`
	WarmupFrames   int           `mapstructure:"warmup_frames" yaml:"warmup_frames"`
	CorruptEvery   int           `mapstructure:"corrupt_every" yaml:"corrupt_every"` // pattern backend only
}

type StorageConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"` // "gadget", "directory"
	MountPoint       string        `mapstructure:"mount_point" yaml:"mount_point"`
	BlockDevice      string        `mapstructure:"block_device" yaml:"block_device"`
	FsType           string        `mapstructure:"fs_type" yaml:"fs_type"`
	MountOptions     string        `mapstructure:"mount_options" yaml:"mount_options"`
	GadgetLun        string        `mapstructure:"gadget_lun" yaml:"gadget_lun"`
	MountTimeout     time.Duration `mapstructure:"mount_timeout" yaml:"mount_timeout"`
	MountPoll        time.Duration `mapstructure:"mount_poll" yaml:"mount_poll"`
	AudioPattern     string        `mapstructure:"audio_pattern" yaml:"audio_pattern"`
	VideoPattern     string        `mapstructure:"video_pattern" yaml:"video_pattern"`
	SetupRetryDelay  time.Duration `mapstructure:"setup_retry_delay" yaml:"setup_retry_delay"`
	MaxSetupFailures int           `mapstructure:"max_setup_failures" yaml:"max_setup_failures"`
}

type DisplayConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"` // "log", "file"
	Path    string        `mapstructure:"path" yaml:"path"`
	Refresh time.Duration `mapstructure:"refresh" yaml:"refresh"`
	Hold    time.Duration `mapstructure:"hold" yaml:"hold"`
}

type AdvertConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// DefaultPath is where the config file is looked up when --config is not given
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "fieldcapture.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trigger.poll_interval", 10*time.Millisecond)
	v.SetDefault("trigger.debounce", 30*time.Millisecond)
	v.SetDefault("trigger.long_press", 500*time.Millisecond)
	v.SetDefault("trigger.remote_debounce", 500*time.Millisecond)
	v.SetDefault("trigger.prefix", fmt.Sprintf("%x", wire.DefaultPrefix[:]))
	v.SetDefault("trigger.signal", "")
	v.SetDefault("trigger.active_low", true)

	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.target", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.bits_per_sample", 32)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_samples", 512)
	v.SetDefault("audio.read_timeout", time.Second)
	v.SetDefault("audio.checkpoint_interval", time.Second)
	v.SetDefault("audio.max_duration", time.Duration(0))
	v.SetDefault("audio.buffer_seconds", 2)
	v.SetDefault("audio.tone_frequency", 440.0)

	v.SetDefault("video.enabled", true)
	v.SetDefault("video.backend", "ffmpeg")
	v.SetDefault("video.device", "/dev/video0")
	v.SetDefault("video.input_format", "v4l2")
	v.SetDefault("video.width", 640)
	v.SetDefault("video.height", 480)
	v.SetDefault("video.frame_rate", 15)
	v.SetDefault("video.jpeg_quality", 75)
	v.SetDefault("video.acquire_timeout", time.Second)
	v.SetDefault("video.retry_backoff", 10*time.Millisecond)
	v.SetDefault("video.flush_bytes", 4<<20)
	v.SetDefault("video.warmup_frames", 10)
	v.SetDefault("video.corrupt_every", 0)

	v.SetDefault("storage.backend", "directory")
	v.SetDefault("storage.mount_point", "/sdcard")
	v.SetDefault("storage.block_device", "")
	v.SetDefault("storage.fs_type", "vfat")
	v.SetDefault("storage.mount_options", "")
	v.SetDefault("storage.gadget_lun", "")
	v.SetDefault("storage.mount_timeout", 2*time.Second)
	v.SetDefault("storage.mount_poll", 50*time.Millisecond)
	v.SetDefault("storage.audio_pattern", "mic_%04d.wav")
	v.SetDefault("storage.video_pattern", "VID%04d.MJP")
	v.SetDefault("storage.setup_retry_delay", time.Second)
	v.SetDefault("storage.max_setup_failures", 5)

	v.SetDefault("display.backend", "log")
	v.SetDefault("display.path", "")
	v.SetDefault("display.refresh", 250*time.Millisecond)
	v.SetDefault("display.hold", 2*time.Second)

	v.SetDefault("advert.listen", "")
	v.SetDefault("server.listen", "")
	v.SetDefault("state_poll", 50*time.Millisecond)
	v.SetDefault("log_level", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile on top of the defaults. An empty path yields the
// defaults plus any environment overrides.
func Load(configFile string) (*Config, error) {
	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Storage.MountPoint = expandPath(cfg.Storage.MountPoint)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch calls onChange with the re-read config every time configFile is
// written. Invalid edits are logged and ignored.
func Watch(configFile string, onChange func(*Config)) error {
	if configFile == "" {
		return fmt.Errorf("no config file to watch")
	}
	v := newViper()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("Config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
