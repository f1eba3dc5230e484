package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/state"
)

var recordCmd = &cobra.Command{
	Use:   "record <file.wav>",
	Short: "Record the microphone into a WAV file",
	Long: `Record the microphone alone, without the trigger, camera or storage
switching. Useful to check levels and the audio backend. Recording stops
after --duration (audio.max_duration by default) or on Ctrl+C; the file
is left with a valid header either way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		duration, _ := cmd.Flags().GetDuration("duration")
		if !cmd.Flags().Changed("duration") {
			duration = cfg.Audio.MaxDuration
		}

		format := audio.Format{
			SampleRate:    uint32(cfg.Audio.SampleRate),
			BitsPerSample: uint16(cfg.Audio.BitsPerSample),
			Channels:      uint16(cfg.Audio.Channels),
		}
		src, err := audio.NewSource(cmd.Context(), audio.SourceConfig{
			Backend:       cfg.Audio.Backend,
			Target:        cfg.Audio.Target,
			Format:        format,
			BufferSeconds: cfg.Audio.BufferSeconds,
			ToneFrequency: cfg.Audio.ToneFrequency,
		})
		if err != nil {
			return fmt.Errorf("failed to open microphone: %w", err)
		}

		holder := state.NewHolder()
		holder.Apply(state.LongPress)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		done := make(chan struct{})
		defer close(done)
		go stopOnSignal(sigChan, done, func() {
			slog.Info("Stopping recording...")
			holder.Apply(state.LongPress)
			if duration > 0 {
				// a timed capture only stops early when the source goes away
				src.Close()
			}
		})

		if duration > 0 {
			slog.Info("Recording", "file", path, "duration", duration)
		} else {
			slog.Info("Recording - Press Ctrl+C to stop", "file", path)
		}

		res, err := audio.Capture(audio.LoopConfig{
			Fs:                 afero.NewOsFs(),
			Path:               path,
			Source:             src,
			State:              holder,
			Format:             format,
			ChunkSamples:       cfg.Audio.ChunkSamples,
			ReadTimeout:        cfg.Audio.ReadTimeout,
			CheckpointInterval: cfg.Audio.CheckpointInterval,
			MaxDuration:        duration,
		})
		closeErr := src.Close()
		if err != nil && !errors.Is(err, audio.ErrSourceClosed) {
			return fmt.Errorf("recording failed: %w", err)
		}
		if closeErr != nil {
			slog.Warn("Failed to close microphone", "error", closeErr)
		}

		fmt.Printf("%s: %s of audio, %d bytes\n", res.Path, res.Duration.Round(time.Millisecond), res.DataBytes)
		return nil
	},
}

// stopOnSignal runs stop on the first signal, or returns once done is closed
func stopOnSignal(sigChan <-chan os.Signal, done <-chan struct{}, stop func()) {
	select {
	case <-sigChan:
		stop()
	case <-done:
	}
}

func init() {
	recordCmd.Flags().Duration("duration", 0, "stop after this much audio (0 records until Ctrl+C)")
}
