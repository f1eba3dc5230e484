package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/wire"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex-payload>",
	Short: "Decode a trigger command payload",
	Long: `Decode a 16-byte trigger command as broadcast by a companion transmitter.
Spaces, colons and dashes in the hex string are ignored. The payload is
checked against trigger.prefix from the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, err := wire.ParsePrefix(cfg.Trigger.Prefix)
		if err != nil {
			return fmt.Errorf("invalid trigger prefix: %w", err)
		}
		payload, err := wire.ParseHex(args[0])
		if err != nil {
			return err
		}

		command, err := wire.NewDecoder(prefix).Decode(payload)
		if err != nil {
			fmt.Printf("rejected: %s\n", rejectionReason(err))
			return err
		}
		fmt.Printf("command:   %s press\n", command.Kind())
		fmt.Printf("timestamp: %s\n", command.Timestamp)
		return nil
	},
}

var encodeCmd = &cobra.Command{
	Use:   "encode <short|long>",
	Short: "Build a trigger command payload, optionally sending it to a recorder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		send, _ := cmd.Flags().GetString("send")

		var long bool
		switch strings.ToLower(args[0]) {
		case "short":
		case "long":
			long = true
		default:
			return fmt.Errorf("unknown press %q, use short or long", args[0])
		}

		prefix, err := wire.ParsePrefix(cfg.Trigger.Prefix)
		if err != nil {
			return fmt.Errorf("invalid trigger prefix: %w", err)
		}
		payload := wire.Encode(prefix, long, time.Now())
		fmt.Println(hex.EncodeToString(payload))

		if send == "" {
			return nil
		}
		conn, err := net.Dial("udp", send)
		if err != nil {
			return fmt.Errorf("failed to reach %s: %w", send, err)
		}
		defer conn.Close()
		if _, err := conn.Write(payload); err != nil {
			return fmt.Errorf("failed to send payload: %w", err)
		}
		return nil
	},
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrLength):
		return "wrong length"
	case errors.Is(err, wire.ErrBadPrefix):
		return "prefix mismatch"
	case errors.Is(err, wire.ErrBadCommand):
		return "unknown command byte"
	case errors.Is(err, wire.ErrBadDigit):
		return "timestamp is not BCD"
	}
	return err.Error()
}

func init() {
	encodeCmd.Flags().String("send", "", "UDP address of a recorder's advertisement listener, e.g. 192.168.1.20:47000")
	rootCmd.AddCommand(encodeCmd)
}
