package cmd

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture backends and PipeWire ports",
	Long: `List the audio backends usable on this host and, when PipeWire is running,
the output ports that can be used as audio.target. The configured target
is checked against the live port list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Capture backends (%s)\n\n", runtime.GOOS)

		fmt.Printf("audio (configured: %s)\n", cfg.Audio.Backend)
		for _, b := range audio.GetAvailableBackends() {
			fmt.Printf("  - %s\n", b)
		}

		fmt.Printf("\nvideo (configured: %s, enabled: %v)\n", cfg.Video.Backend, cfg.Video.Enabled)
		if _, err := exec.LookPath("ffmpeg"); err == nil {
			fmt.Printf("  - ffmpeg (%s)\n", cfg.Video.Device)
		}
		fmt.Printf("  - pattern\n")

		if _, err := exec.LookPath("pw-link"); err != nil {
			return nil
		}
		return listPipeWireSources(cfg.Audio.Target)
	},
}

// listPipeWireSources lists available PipeWire output ports
func listPipeWireSources(target string) error {
	pw := audio.NewPipeWire()
	ports, err := pw.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to get PipeWire ports: %w", err)
	}

	fmt.Printf("\nPipeWire output ports (%d found):\n", len(ports))
	for i, port := range ports {
		fmt.Printf("  %d. %s\n", i+1, port)
	}

	if target != "" {
		if err := pw.ValidatePort(target); err != nil {
			fmt.Printf("\naudio.target %q: %v\n", target, err)
		} else {
			fmt.Printf("\naudio.target %q is available\n", target)
		}
	}
	return nil
}
