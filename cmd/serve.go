package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recorder with the HTTP control API enabled",
	Long: `Run the recorder and serve the control API so it can be driven from a
phone or laptop on the same network:

  GET  /api/status       current state, session and trigger counters
  POST /api/trigger      {"kind":"short"} or {"kind":"long"}
  POST /api/advert       {"payload":"<32 hex digits>"}
  GET  /api/recordings   capture files on the medium`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		sim, _ := cmd.Flags().GetBool("sim")

		if sim {
			simulate(cfg)
		}
		cfg.Server.Listen = ":" + port
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
		return runRecorder(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the control API")
	serveCmd.Flags().Bool("sim", false, "use a test tone, colour bars and a plain directory")
}
