package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/proc"
)

// PipeWireSource streams raw PCM from pw-record's stdout
type PipeWireSource struct {
	cmd    *exec.Cmd
	buffer *sampleBuffer
	format Format

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// pwFormat maps a bit depth onto a pw-record sample format
func pwFormat(bits uint16) (string, error) {
	switch bits {
	case 8:
		return "u8", nil
	case 16:
		return "s16", nil
	case 24:
		return "s24", nil
	case 32:
		return "s32", nil
	}
	return "", fmt.Errorf("unsupported bit depth %d", bits)
}

func pipeWireArgs(f Format, target string) ([]string, error) {
	sampleFormat, err := pwFormat(f.BitsPerSample)
	if err != nil {
		return nil, err
	}
	args := []string{
		"pw-record",
		"--rate", strconv.Itoa(int(f.SampleRate)),
		"--channels", strconv.Itoa(int(f.Channels)),
		"--format", sampleFormat,
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	// raw samples on stdout
	return append(args, "-"), nil
}

// NewPipeWireSource starts pw-record against target (empty for the default source)
func NewPipeWireSource(ctx context.Context, f Format, target string, bufferSeconds int) (*PipeWireSource, error) {
	if target != "" {
		if err := NewPipeWire().ValidatePort(target); err != nil {
			return nil, err
		}
	}
	args, err := pipeWireArgs(f, target)
	if err != nil {
		return nil, err
	}
	if bufferSeconds <= 0 {
		bufferSeconds = 2
	}

	slog.Info("Starting PipeWire capture", "command", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pw-record: %w", err)
	}

	s := &PipeWireSource{
		cmd:    cmd,
		buffer: newSampleBuffer(bufferSeconds*f.ByteRate(), f.BlockAlign()),
		format: f,
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.pump(stdout)
	}()
	go func() {
		defer readers.Done()
		proc.LogOutput(stderr, "pw-record")
	}()
	go func() {
		readers.Wait()
		s.waitErr = cmd.Wait()
		s.buffer.close(nil)
		close(s.done)
	}()

	return s, nil
}

func (s *PipeWireSource) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.buffer.push(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("pw-record stdout closed", "error", err)
			}
			return
		}
	}
}

func (s *PipeWireSource) ReadSamples(buf []byte, timeout time.Duration) (int, error) {
	return s.buffer.read(buf, timeout)
}

// Close interrupts pw-record and kills it if it has not exited within five seconds
func (s *PipeWireSource) Close() error {
	var err error
	s.stopOnce.Do(func() {
		proc.Stop(s.cmd, s.done, 5*time.Second)
		err = proc.ExitError("pw-record", s.waitErr)
	})
	return err
}

// PipeWire inspects the PipeWire port graph
type PipeWire struct {
	listPorts func() ([]byte, error)
}

func NewPipeWire() *PipeWire {
	return &PipeWire{listPorts: func() ([]byte, error) {
		return exec.Command("pw-link", "-o").Output()
	}}
}

// ListPorts returns the output ports that can feed a capture
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// ValidatePort checks that a port exists exactly once
func (pw *PipeWire) ValidatePort(portName string) error {
	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortIn(portName, ports)
}

func validatePortIn(portName string, ports []string) error {
	if portName == "" {
		return nil
	}
	count := 0
	for _, port := range ports {
		if port == portName {
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if count > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %d ports share the name", portName, count)
	}
	return nil
}
