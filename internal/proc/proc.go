// Package proc runs the external capture tools (pw-record, ffmpeg) that feed
// the audio and video loops.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// LogOutput forwards a child's diagnostic lines to the debug log until the pipe closes
func LogOutput(pipe io.Reader, label string) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		slog.Debug("Child process output", "process", label, "line", scanner.Text())
	}
}

// Stop sends SIGINT and waits for done, killing the process after grace
func Stop(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-done:
		return
	default:
	}

	slog.Debug("Sending SIGINT to child process", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to interrupt child, killing", "error", err)
		cmd.Process.Kill()
	}

	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("Child process did not exit within timeout, force killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
		<-done
	}
}

// ExitError drops the exit statuses a tool reports after being interrupted
func ExitError(name string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ffmpeg exits 255 on SIGINT
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			switch exitErr.ProcessState.String() {
			case "signal: interrupt", "signal: killed":
				return nil
			}
		}
	}
	return fmt.Errorf("%s failed: %w", name, err)
}
