// Package recorder sequences storage ownership around the audio and video
// capture loops.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/state"
	"github.com/audiolibrelab/fieldcapture/internal/storage"
	"github.com/audiolibrelab/fieldcapture/internal/video"
)

// StorageArbiter is the storage switch the orchestrator drives
type StorageArbiter interface {
	ExposeToHost() error
	ExposeToDevice() error
	WaitMounted(ctx context.Context) error
	Mode() storage.Mode
}

// SummarySink receives the idle-screen summary after each session
type SummarySink interface {
	SetSummary(seconds int, file string)
}

// AudioSettings are handed to every audio capture run
type AudioSettings struct {
	Format             audio.Format
	ChunkSamples       int
	ReadTimeout        time.Duration
	CheckpointInterval time.Duration
}

// VideoSettings are handed to every video capture run
type VideoSettings struct {
	AcquireTimeout time.Duration
	RetryBackoff   time.Duration
	FlushBytes     int64
	WarmupFrames   int
	Placeholder    []byte
}

// Config wires the orchestrator to its collaborators
type Config struct {
	Fs     afero.Fs
	Naming Naming

	State   state.Reader
	Storage StorageArbiter
	Audio   audio.SampleSource
	// Video is nil when the camera is disabled or unavailable
	Video   video.FrameSource
	Summary SummarySink

	AudioSettings AudioSettings
	VideoSettings VideoSettings

	StatePoll        time.Duration
	SetupRetryDelay  time.Duration
	MaxSetupFailures int
}

// Status is a snapshot for the control surface
type Status struct {
	State       string   `json:"state"`
	Storage     string   `json:"storage"`
	Session     *Session `json:"session,omitempty"`
	Last        *Summary `json:"last,omitempty"`
	Completed   int      `json:"completed"`
	NextIndex   uint32   `json:"next_index"`
	FramesLive  int64    `json:"frames_live,omitempty"`
	DroppedLive int64    `json:"dropped_live,omitempty"`
}

// Orchestrator runs one capture session per recording request
type Orchestrator struct {
	cfg Config

	warmup sync.Once

	mutex     sync.Mutex
	next      uint32
	session   *Session
	videoLoop *video.Loop
	last      *Summary
	completed int
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Fs == nil || cfg.State == nil || cfg.Storage == nil || cfg.Audio == nil {
		return nil, fmt.Errorf("orchestrator needs a filesystem, state, storage and audio source")
	}
	if err := ValidatePattern(cfg.Naming.AudioPattern); err != nil {
		return nil, err
	}
	if cfg.Video != nil {
		if err := ValidatePattern(cfg.Naming.VideoPattern); err != nil {
			return nil, err
		}
	}
	if cfg.StatePoll <= 0 {
		cfg.StatePoll = 50 * time.Millisecond
	}
	if cfg.SetupRetryDelay <= 0 {
		cfg.SetupRetryDelay = time.Second
	}
	if cfg.MaxSetupFailures <= 0 {
		cfg.MaxSetupFailures = 5
	}
	return &Orchestrator{cfg: cfg, next: 1}, nil
}

// Run exposes storage to the host, then serves recording requests until ctx
// is done. It only fails when storage can never be handed over.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.cfg.Storage.ExposeToHost(); err != nil {
		return fmt.Errorf("initial host exposure failed: %w", err)
	}
	o.warmupCamera()

	failures := 0
	for {
		summary, err := o.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errSetup):
			failures++
			if failures >= o.cfg.MaxSetupFailures {
				return fmt.Errorf("giving up after %d storage failures: %w", failures, err)
			}
			slog.Error("Session setup failed", "error", err, "attempt", failures)
			o.sleep(ctx, o.cfg.SetupRetryDelay)
			o.waitInactive(ctx)
			continue
		case err != nil:
			slog.Error("Session ended with error", "error", err)
		}
		failures = 0

		if summary.Failed() {
			// retry on the next trigger, not in a tight loop
			o.waitInactive(ctx)
		}
	}
}

var errSetup = errors.New("session setup failed")

// RunOnce waits for a recording request and records one session
func (o *Orchestrator) RunOnce(ctx context.Context) (Summary, error) {
	if err := o.waitActive(ctx); err != nil {
		return Summary{}, err
	}
	o.warmupCamera()

	if err := o.cfg.Storage.ExposeToDevice(); err != nil {
		o.restoreHost()
		return Summary{}, fmt.Errorf("%w: %w", errSetup, err)
	}
	if err := o.cfg.Storage.WaitMounted(ctx); err != nil {
		// degraded writes are still attempted
		slog.Error("Mount not ready", "mount_point", o.cfg.Naming.Dir, "error", err)
	}

	session := o.allocate()
	summary := o.capture(session)

	if err := appendManifest(o.cfg.Fs, o.cfg.Naming.Dir, summary); err != nil {
		slog.Warn("Failed to update session manifest", "error", err)
	}
	if !summary.Failed() && o.cfg.Summary != nil {
		o.cfg.Summary.SetSummary(summary.Seconds, filepath.Base(summary.AudioPath))
	}

	o.mutex.Lock()
	o.session = nil
	o.videoLoop = nil
	o.last = &summary
	o.completed++
	o.mutex.Unlock()

	if err := o.cfg.Storage.ExposeToHost(); err != nil {
		return summary, fmt.Errorf("failed to return storage to host: %w", err)
	}
	slog.Info("Session complete", "index", summary.Index, "seconds", summary.Seconds,
		"frames", summary.FramesWritten, "dropped", summary.FramesDropped)
	return summary, nil
}

// allocate reserves the next index, skipping any already present on the medium
func (o *Orchestrator) allocate() *Session {
	highest, err := o.cfg.Naming.HighestIndex(o.cfg.Fs)
	if err != nil {
		slog.Warn("Could not scan existing recordings", "error", err)
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	index := o.next
	if highest >= index {
		index = highest + 1
	}
	o.next = index + 1

	audioPath, videoPath := o.cfg.Naming.paths(index, o.cfg.Video != nil)
	o.session = newSession(index, audioPath, videoPath, time.Now())
	slog.Info("Session started", "index", index, "session", o.session.ID, "audio", audioPath, "video", videoPath)
	return o.session
}

// capture runs both loops and returns once both have closed their files
func (o *Orchestrator) capture(s *Session) Summary {
	summary := Summary{Session: *s}

	var audioWG, videoWG conc.WaitGroup
	var audioRes audio.Result
	var audioErr error
	audioWG.Go(func() {
		audioRes, audioErr = audio.Capture(audio.LoopConfig{
			Fs:                 o.cfg.Fs,
			Path:               s.AudioPath,
			Source:             o.cfg.Audio,
			State:              o.cfg.State,
			Format:             o.cfg.AudioSettings.Format,
			ChunkSamples:       o.cfg.AudioSettings.ChunkSamples,
			ReadTimeout:        o.cfg.AudioSettings.ReadTimeout,
			CheckpointInterval: o.cfg.AudioSettings.CheckpointInterval,
		})
	})

	var videoRes video.Result
	var videoErr error
	if o.cfg.Video != nil {
		loop := video.NewLoop(video.LoopConfig{
			Fs:             o.cfg.Fs,
			Path:           s.VideoPath,
			Source:         o.cfg.Video,
			State:          o.cfg.State,
			Placeholder:    o.cfg.VideoSettings.Placeholder,
			AcquireTimeout: o.cfg.VideoSettings.AcquireTimeout,
			RetryBackoff:   o.cfg.VideoSettings.RetryBackoff,
			FlushBytes:     o.cfg.VideoSettings.FlushBytes,
		})
		o.mutex.Lock()
		o.videoLoop = loop
		o.mutex.Unlock()
		videoWG.Go(func() {
			videoRes, videoErr = loop.Run()
		})
	}

	if r := audioWG.WaitAndRecover(); r != nil {
		audioErr = fmt.Errorf("audio capture panicked: %s", r.String())
	}
	if r := videoWG.WaitAndRecover(); r != nil {
		videoErr = fmt.Errorf("video capture panicked: %s", r.String())
	}

	summary.EndedAt = time.Now()
	summary.Seconds = audioRes.Seconds()
	summary.AudioBytes = audioRes.DataBytes
	summary.PausedBytes = audioRes.PausedBytes
	summary.FramesWritten = videoRes.FramesWritten
	summary.FramesDropped = videoRes.FramesDropped
	if audioErr != nil {
		summary.AudioError = audioErr.Error()
		slog.Error("Mic capture failed", "session", s.ID, "error", audioErr)
	}
	if videoErr != nil {
		summary.VideoError = videoErr.Error()
		slog.Error("Video capture failed", "session", s.ID, "error", videoErr)
	}
	return summary
}

func (o *Orchestrator) warmupCamera() {
	if o.cfg.Video == nil || o.cfg.VideoSettings.WarmupFrames <= 0 {
		return
	}
	o.warmup.Do(func() {
		n := video.Warmup(o.cfg.Video, o.cfg.VideoSettings.WarmupFrames, o.cfg.VideoSettings.AcquireTimeout)
		slog.Debug("Camera warmed up", "discarded", n)
	})
}

func (o *Orchestrator) restoreHost() {
	if err := o.cfg.Storage.ExposeToHost(); err != nil {
		slog.Error("Failed to return storage to host", "error", err)
	}
}

func (o *Orchestrator) waitActive(ctx context.Context) error {
	return o.waitFor(ctx, true)
}

func (o *Orchestrator) waitInactive(ctx context.Context) {
	o.waitFor(ctx, false)
}

func (o *Orchestrator) waitFor(ctx context.Context, active bool) error {
	ticker := time.NewTicker(o.cfg.StatePoll)
	defer ticker.Stop()
	for o.cfg.State.Current().Active() != active {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Status returns the current session, if any, and the last completed one
func (o *Orchestrator) Status() Status {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	st := Status{
		State:     o.cfg.State.Current().String(),
		Storage:   o.cfg.Storage.Mode().String(),
		Completed: o.completed,
		NextIndex: o.next,
	}
	if o.session != nil {
		s := *o.session
		st.Session = &s
	}
	if o.last != nil {
		l := *o.last
		st.Last = &l
	}
	if o.videoLoop != nil {
		stats := o.videoLoop.Stats()
		st.FramesLive = stats.Written
		st.DroppedLive = stats.Dropped
	}
	return st
}
