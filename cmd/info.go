package cmd

import (
	"fmt"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/recorder"
	"github.com/audiolibrelab/fieldcapture/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info [dir]",
	Short: "List recordings and the session log on a medium",
	Long: `List the capture files in the recording directory (storage.mount_point by
default) with their size, and for WAV files whether the header is valid
and how long the audio is. The session log kept next to them is printed
after the files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := afero.NewOsFs()
		naming := recorder.Naming{
			Dir:          cfg.Storage.MountPoint,
			AudioPattern: cfg.Storage.AudioPattern,
			VideoPattern: cfg.Storage.VideoPattern,
		}
		if len(args) == 1 {
			naming.Dir = args[0]
		}

		recordings, err := service.ListRecordings(fs, naming)
		if err != nil {
			return err
		}

		fmt.Printf("=== RECORDINGS (%s) ===\n", naming.Dir)
		if len(recordings) == 0 {
			fmt.Println("none")
		}
		for _, r := range recordings {
			detail := ""
			if r.Kind == "audio" {
				detail = describeWAV(fs, r.Path)
			}
			fmt.Printf("%-16s %-6s %10s  %s  %s\n", r.Name, r.Kind, r.SizeHuman, r.ModTimeHuman, detail)
		}

		sessions, err := recorder.ReadManifest(fs, naming.Dir)
		if err != nil {
			fmt.Printf("\nsession log unreadable: %v\n", err)
			return nil
		}
		if len(sessions) == 0 {
			return nil
		}
		fmt.Printf("\n=== SESSIONS ===\n")
		for _, s := range sessions {
			status := "ok"
			if s.Failed() {
				status = "audio failed: " + s.AudioError
			} else if s.VideoError != "" {
				status = "video failed: " + s.VideoError
			}
			fmt.Printf("#%-4d %s  %4ds  frames=%d dropped=%d  %s\n",
				s.Index, s.StartedAt.Format("2006-01-02 15:04:05"), s.Seconds,
				s.FramesWritten, s.FramesDropped, status)
		}
		return nil
	},
}

// describeWAV reports the format and length declared by a WAV header
func describeWAV(fs afero.Fs, path string) string {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Sprintf("unreadable: %v", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return "invalid WAV header"
	}
	if err := d.FwdToPCM(); err != nil {
		return fmt.Sprintf("%d Hz %d-bit, no data chunk: %v", d.SampleRate, d.BitDepth, err)
	}
	byteRate := int(d.SampleRate) * int(d.BitDepth/8) * int(d.NumChans)
	if byteRate == 0 {
		return "empty format chunk"
	}
	duration := time.Duration(float64(d.PCMSize) / float64(byteRate) * float64(time.Second))
	return fmt.Sprintf("%d Hz %d-bit x%d, %s", d.SampleRate, d.BitDepth, d.NumChans, duration.Round(time.Millisecond))
}
