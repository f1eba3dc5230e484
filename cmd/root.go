package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int

	// logLevel is shared by the handler so config reloads can change it
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "fieldcapture",
	Short: "Handheld audio and video field recorder",
	Long: `FieldCapture turns a small Linux board with a microphone, a camera and
a removable medium into a one-button recorder.

A long press on the button (or on a companion transmitter) starts a session,
a short press pauses and resumes it. Between sessions the medium is handed to
the USB host so recordings can be copied off.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		path, err := resolveConfigPath(cfgFile)
		if err != nil {
			return err
		}
		cfgFile = path

		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyLogLevel(cfg.LogLevel)
		slog.Debug("Config loaded", "file", cfgFile)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fieldcapture.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg and pw-record tracing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// resolveConfigPath returns the file to load. Without --config the default
// location is used when it exists, otherwise only defaults and environment apply.
func resolveConfigPath(flag string) (string, error) {
	if flag != "" {
		if _, err := os.Stat(flag); err != nil {
			return "", fmt.Errorf("config file %s: %w", flag, err)
		}
		return flag, nil
	}
	path := config.DefaultPath()
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	switch level {
	case 0:
		logLevel.Set(slog.LevelInfo)
	default:
		logLevel.Set(slog.LevelDebug)
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))

	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	}
}

// applyLogLevel lets log_level from the config override the -v default.
// An empty value keeps the current level.
func applyLogLevel(level string) {
	if level == "" || verboseLevel > 0 {
		return
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		slog.Warn("Ignoring invalid log level", "level", level)
		return
	}
	logLevel.Set(l)
}
