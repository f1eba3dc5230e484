package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/fieldcapture/internal/config"
	"github.com/audiolibrelab/fieldcapture/internal/server"
	"github.com/audiolibrelab/fieldcapture/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the recorder",
	Long: `Run the recorder until interrupted. Triggers come from the button signal
file, from companion transmitters on the advertisement port and, when
--listen is set, from the HTTP control API.

With --sim the microphone, camera and medium are replaced by a test tone,
colour bars and a plain directory so the whole recorder runs on any host.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sim, _ := cmd.Flags().GetBool("sim")
		listen, _ := cmd.Flags().GetString("listen")
		dir, _ := cmd.Flags().GetString("dir")

		if sim {
			simulate(cfg)
		}
		if dir != "" {
			cfg.Storage.MountPoint = dir
		}
		if listen != "" {
			cfg.Server.Listen = listen
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
		return runRecorder(cmd.Context(), cfg)
	},
}

// simulate swaps the hardware backends for synthetic ones
func simulate(c *config.Config) {
	c.Audio.Backend = "tone"
	c.Video.Backend = "pattern"
	if c.Storage.Backend == "gadget" {
		c.Storage.Backend = "directory"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	slog.Info("Simulation mode", "dir", c.Storage.MountPoint, "api", c.Server.Listen)
}

// runRecorder runs the service, and the control API when configured, until
// SIGINT/SIGTERM or a fatal storage failure
func runRecorder(parent context.Context, c *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// capture processes outlive the signal so the last session can be
	// finalized, svc.Close releases them
	svc, err := service.New(parent, c, service.Options{})
	if err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("Failed to release capture devices", "error", err)
		}
	}()

	if cfgFile != "" {
		err := config.Watch(cfgFile, func(updated *config.Config) {
			applyLogLevel(updated.LogLevel)
		})
		if err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if c.Server.Listen != "" {
		srv := server.New(svc, c.Server.Listen)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Recorder stopped")
	return nil
}

func init() {
	runCmd.Flags().Bool("sim", false, "use a test tone, colour bars and a plain directory")
	runCmd.Flags().String("listen", "", "address of the HTTP control API (overrides server.listen)")
	runCmd.Flags().String("dir", "", "recording directory (overrides storage.mount_point)")
}
