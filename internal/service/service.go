// Package service assembles the recorder from its configuration and exposes
// the operations shared by the CLI and the HTTP API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/fieldcapture/internal/advert"
	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/config"
	"github.com/audiolibrelab/fieldcapture/internal/display"
	"github.com/audiolibrelab/fieldcapture/internal/recorder"
	"github.com/audiolibrelab/fieldcapture/internal/state"
	"github.com/audiolibrelab/fieldcapture/internal/storage"
	"github.com/audiolibrelab/fieldcapture/internal/trigger"
	"github.com/audiolibrelab/fieldcapture/internal/video"
	"github.com/audiolibrelab/fieldcapture/internal/wire"
)

// Service defines the interface for recorder operations
type Service interface {
	// Run drives the recorder until ctx is done or storage fails for good
	Run(ctx context.Context) error

	// Press injects a button press as if it came from a companion transmitter
	Press(kind state.Press)
	// SubmitAdvertisement feeds one hex-encoded command payload to the aggregator
	SubmitAdvertisement(payload string) (wire.Command, error)

	Status() Status
	Recordings() ([]RecordingInfo, error)

	// Close releases the microphone and the camera
	Close() error
}

// Status combines the recorder snapshot with the trigger counters
type Status struct {
	recorder.Status
	Trigger   trigger.Stats `json:"trigger"`
	LastError string        `json:"last_error,omitempty"`
}

// RecordingInfo describes one capture file on the medium
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Kind         string    `json:"kind"` // "audio" or "video"
	Index        uint32    `json:"index"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
}

// Options replace the host resources the service would otherwise open itself
type Options struct {
	Fs      afero.Fs
	Mounter storage.Mounter
}

// FieldCaptureService is the main service implementation
type FieldCaptureService struct {
	cfg    *config.Config
	fs     afero.Fs
	naming recorder.Naming

	holder       *state.Holder
	decoder      *wire.Decoder
	aggregator   *trigger.Aggregator
	arbiter      *storage.Arbiter
	panel        *display.Panel
	orchestrator *recorder.Orchestrator

	audioSource audio.Source
	videoSource video.Source

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New opens the capture devices and wires the recorder together
func New(ctx context.Context, cfg *config.Config, opts Options) (Service, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	mounter := opts.Mounter
	if mounter == nil {
		mounter = storage.SystemMounter{}
	}

	prefix, err := wire.ParsePrefix(cfg.Trigger.Prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger prefix: %w", err)
	}

	s := &FieldCaptureService{
		cfg: cfg,
		fs:  fs,
		naming: recorder.Naming{
			Dir:          cfg.Storage.MountPoint,
			AudioPattern: cfg.Storage.AudioPattern,
		},
		holder:  state.NewHolder(),
		decoder: wire.NewDecoder(prefix),
	}

	s.aggregator = trigger.NewAggregator(trigger.Config{
		PollInterval:   cfg.Trigger.PollInterval,
		Debounce:       cfg.Trigger.Debounce,
		LongPress:      cfg.Trigger.LongPress,
		RemoteDebounce: cfg.Trigger.RemoteDebounce,
	}, s.holder, s.decoder)

	ctrl, err := newMountController(cfg.Storage, fs, mounter)
	if err != nil {
		return nil, err
	}
	s.arbiter = storage.NewArbiter(ctrl, storage.ArbiterConfig{
		MountPoint:   cfg.Storage.MountPoint,
		MountTimeout: cfg.Storage.MountTimeout,
		MountPoll:    cfg.Storage.MountPoll,
	})

	screen, err := newDisplay(cfg.Display, fs)
	if err != nil {
		return nil, err
	}
	s.panel = display.NewPanel(screen, s.holder, cfg.Display.Hold)

	format := audio.Format{
		SampleRate:    uint32(cfg.Audio.SampleRate),
		BitsPerSample: uint16(cfg.Audio.BitsPerSample),
		Channels:      uint16(cfg.Audio.Channels),
	}
	s.audioSource, err = audio.NewSource(ctx, audio.SourceConfig{
		Backend:       cfg.Audio.Backend,
		Target:        cfg.Audio.Target,
		Format:        format,
		BufferSeconds: cfg.Audio.BufferSeconds,
		ToneFrequency: cfg.Audio.ToneFrequency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}

	videoSettings := recorder.VideoSettings{
		AcquireTimeout: cfg.Video.AcquireTimeout,
		RetryBackoff:   cfg.Video.RetryBackoff,
		FlushBytes:     cfg.Video.FlushBytes,
		WarmupFrames:   cfg.Video.WarmupFrames,
	}
	if cfg.Video.Enabled {
		s.openCamera(ctx, &videoSettings)
	}

	orch := recorder.Config{
		Fs:      fs,
		Naming:  s.naming,
		State:   s.holder,
		Storage: s.arbiter,
		Audio:   s.audioSource,
		Summary: s.panel,
		AudioSettings: recorder.AudioSettings{
			Format:             format,
			ChunkSamples:       cfg.Audio.ChunkSamples,
			ReadTimeout:        cfg.Audio.ReadTimeout,
			CheckpointInterval: cfg.Audio.CheckpointInterval,
		},
		VideoSettings:    videoSettings,
		StatePoll:        cfg.StatePoll,
		SetupRetryDelay:  cfg.Storage.SetupRetryDelay,
		MaxSetupFailures: cfg.Storage.MaxSetupFailures,
	}
	if s.videoSource != nil {
		orch.Video = s.videoSource
		orch.Naming.VideoPattern = cfg.Storage.VideoPattern
		s.naming.VideoPattern = cfg.Storage.VideoPattern
	}
	s.orchestrator, err = recorder.NewOrchestrator(orch)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create orchestrator: %w", err), s.Close())
	}

	s.aggregator.OnEvent = func(ev trigger.Event, from, to state.State) {
		if from == state.Idle && to == state.Recording {
			s.clearLastError()
		}
	}
	return s, nil
}

// openCamera degrades to audio-only recording when the camera cannot be opened
func (s *FieldCaptureService) openCamera(ctx context.Context, settings *recorder.VideoSettings) {
	v := s.cfg.Video
	src, err := video.NewSource(ctx, video.SourceConfig{
		Backend:      v.Backend,
		Device:       v.Device,
		InputFormat:  v.InputFormat,
		Width:        v.Width,
		Height:       v.Height,
		Quality:      v.JPEGQuality,
		FrameRate:    v.FrameRate,
		CorruptEvery: v.CorruptEvery,
	})
	if err != nil {
		s.setLastError(fmt.Sprintf("Camera unavailable, recording audio only: %v", err))
		return
	}
	s.videoSource = src

	placeholder, err := video.Placeholder(v.Width, v.Height, v.JPEGQuality)
	if err != nil {
		slog.Warn("Failed to render pause placeholder, live frames will be kept while paused", "error", err)
		return
	}
	settings.Placeholder = placeholder
}

func newMountController(cfg config.StorageConfig, fs afero.Fs, mounter storage.Mounter) (storage.MountController, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "directory":
		return storage.NewDirectoryController(fs, cfg.MountPoint), nil
	case "gadget":
		return storage.NewGadgetController(storage.GadgetConfig{
			BlockDevice:  cfg.BlockDevice,
			MountPoint:   cfg.MountPoint,
			FsType:       cfg.FsType,
			MountOptions: cfg.MountOptions,
			LunFile:      cfg.GadgetLun,
		}, fs, mounter)
	}
	return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
}

func newDisplay(cfg config.DisplayConfig, fs afero.Fs) (display.Display, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "log":
		return display.LogDisplay{}, nil
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file display needs a path")
		}
		return display.NewFileDisplay(fs, cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown display backend: %s", cfg.Backend)
}

// Run starts the orchestrator, the trigger inputs and the screen.
// Losing the radio listener is logged but does not stop recording.
func (s *FieldCaptureService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	stopped := make(chan struct{})
	g.Go(func() error {
		defer close(stopped)
		err := s.orchestrator.Run(gctx)
		if err != nil {
			s.setLastError(fmt.Sprintf("Recorder stopped: %v", err))
		}
		return err
	})
	g.Go(func() error {
		s.endSessionOnShutdown(gctx, stopped)
		return nil
	})

	if s.cfg.Trigger.Signal != "" {
		signal := trigger.NewFileSignal(s.fs, s.cfg.Trigger.Signal, s.cfg.Trigger.ActiveLow)
		g.Go(func() error {
			return s.aggregator.RunLocal(gctx, signal)
		})
	}

	if s.cfg.Advert.Listen != "" {
		scanner := advert.NewUDPScanner(s.cfg.Advert.Listen, s.aggregator)
		g.Go(func() error {
			if err := scanner.Run(gctx); err != nil {
				s.setLastError(fmt.Sprintf("Remote triggers unavailable: %v", err))
			}
			return nil
		})
	}

	g.Go(func() error {
		return s.panel.Run(gctx, s.cfg.Display.Refresh)
	})

	slog.Info("Recorder running",
		"storage", s.cfg.Storage.Backend,
		"dir", s.cfg.Storage.MountPoint,
		"video", s.videoSource != nil,
		"signal", s.cfg.Trigger.Signal,
		"advert", s.cfg.Advert.Listen)
	return g.Wait()
}

// endSessionOnShutdown stops an active session once ctx is done, so the
// capture loops finalize their files and storage goes back to the host
// before the orchestrator returns.
func (s *FieldCaptureService) endSessionOnShutdown(ctx context.Context, stopped <-chan struct{}) {
	select {
	case <-stopped:
		return
	case <-ctx.Done():
	}

	poll := s.cfg.StatePoll
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if s.holder.Current().Active() {
			slog.Info("Stopping active session for shutdown", "state", s.holder.Current())
			s.aggregator.Inject(state.LongPress, trigger.Shutdown)
		}
		select {
		case <-stopped:
			return
		case <-ticker.C:
		}
	}
}

func (s *FieldCaptureService) Press(kind state.Press) {
	slog.Debug("Service.Press called", "kind", kind)
	s.aggregator.Inject(kind, trigger.Remote)
}

func (s *FieldCaptureService) SubmitAdvertisement(payload string) (wire.Command, error) {
	data, err := wire.ParseHex(payload)
	if err != nil {
		return wire.Command{}, err
	}
	cmd, err := s.decoder.Decode(data)
	if err != nil {
		return wire.Command{}, fmt.Errorf("advertisement rejected: %w", err)
	}
	s.aggregator.OnDiscovery([][]byte{data}, time.Now())
	return cmd, nil
}

func (s *FieldCaptureService) Status() Status {
	return Status{
		Status:    s.orchestrator.Status(),
		Trigger:   s.aggregator.Stats(),
		LastError: s.GetLastError(),
	}
}

// Recordings lists the capture files on the medium, newest index first
func (s *FieldCaptureService) Recordings() ([]RecordingInfo, error) {
	return ListRecordings(s.fs, s.naming)
}

// ListRecordings lists the files in naming.Dir produced by its patterns
func ListRecordings(fs afero.Fs, naming recorder.Naming) ([]RecordingInfo, error) {
	entries, err := afero.ReadDir(fs, naming.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording directory: %w", err)
	}

	var recordings []RecordingInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind, index, ok := naming.Match(entry.Name())
		if !ok {
			continue
		}
		recordings = append(recordings, RecordingInfo{
			Name:         entry.Name(),
			Path:         filepath.Join(naming.Dir, entry.Name()),
			Kind:         kind,
			Index:        index,
			Size:         entry.Size(),
			SizeHuman:    formatBytes(entry.Size()),
			ModTime:      entry.ModTime(),
			ModTimeHuman: entry.ModTime().Format("2006-01-02 15:04:05"),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].Index != recordings[j].Index {
			return recordings[i].Index > recordings[j].Index
		}
		return recordings[i].Kind < recordings[j].Kind
	})
	return recordings, nil
}

func (s *FieldCaptureService) Close() error {
	var err error
	if s.videoSource != nil {
		err = multierr.Append(err, s.videoSource.Close())
	}
	if s.audioSource != nil {
		err = multierr.Append(err, s.audioSource.Close())
	}
	return err
}

// GetLastError returns the last error message (thread-safe)
func (s *FieldCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *FieldCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *FieldCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
