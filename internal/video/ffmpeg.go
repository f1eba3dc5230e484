package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/proc"
)

// maxFrameBytes bounds a single MJPEG frame read from the pipe
const maxFrameBytes = 8 << 20

// FFmpegConfig selects the camera and its MJPEG mode
type FFmpegConfig struct {
	Device      string
	InputFormat string // v4l2 by default
	Width       int
	Height      int
	FrameRate   int
	Queue       int
}

// FFmpegSource reads MJPEG frames from a camera through an ffmpeg pipe
type FFmpegSource struct {
	cmd    *exec.Cmd
	frames chan *Frame
	pool   sync.Pool
	done   chan struct{}

	mutex   sync.Mutex
	waitErr error
	stop    sync.Once
}

func ffmpegArgs(cfg FFmpegConfig) []string {
	input := cfg.InputFormat
	if input == "" {
		input = "v4l2"
	}
	loglevel := "warning"
	if v := os.Getenv("FFMPEG_LOGLEVEL"); v != "" {
		loglevel = v
	}
	args := []string{"ffmpeg", "-hide_banner", "-loglevel", loglevel, "-f", input}
	if input == "v4l2" {
		args = append(args, "-input_format", "mjpeg")
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	}
	if cfg.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(cfg.FrameRate))
	}
	// frames leave the camera already compressed, copy them untouched
	return append(args, "-i", cfg.Device, "-c:v", "copy", "-f", "mjpeg", "-")
}

// NewFFmpegSource starts ffmpeg and begins splitting its output into frames
func NewFFmpegSource(ctx context.Context, cfg FFmpegConfig) (*FFmpegSource, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("camera device is required")
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 4
	}

	args := ffmpegArgs(cfg)
	slog.Info("Starting camera capture", "command", strings.Join(args, " "))

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
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &FFmpegSource{
		cmd:    cmd,
		frames: make(chan *Frame, cfg.Queue),
		done:   make(chan struct{}),
	}
	s.pool.New = func() any { return &Frame{} }

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.pump(bufio.NewReaderSize(stdout, 64<<10))
	}()
	go func() {
		defer readers.Done()
		proc.LogOutput(stderr, "ffmpeg")
	}()
	go func() {
		readers.Wait()
		err := cmd.Wait()
		s.mutex.Lock()
		s.waitErr = err
		s.mutex.Unlock()
		close(s.done)
	}()

	return s, nil
}

func (s *FFmpegSource) pump(r *bufio.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 256<<10), maxFrameBytes)
	scanner.Split(SplitFrames)

	for scanner.Scan() {
		f := s.pool.Get().(*Frame)
		f.Data = append(f.Data[:0], scanner.Bytes()...)
		f.CapturedAt = time.Now()

		select {
		case s.frames <- f:
		default:
			// consumer is behind, keep the newest frames
			select {
			case old := <-s.frames:
				s.ReleaseFrame(old)
			default:
			}
			select {
			case s.frames <- f:
			default:
				s.ReleaseFrame(f)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		// nothing reads stdout any more, stop ffmpeg so readers see ErrSourceClosed
		slog.Warn("Camera stream ended", "error", err)
		if err := s.cmd.Process.Kill(); err != nil {
			slog.Debug("Failed to kill ffmpeg", "error", err)
		}
	}
}

// SplitFrames is a bufio.SplitFunc yielding each start..end marker run.
// Bytes before a start marker are discarded. A frame cut short by the next
// start marker, or one growing past maxFrameBytes, is still yielded without
// its end marker so the consumer drops and counts it.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	return splitFrames(data, atEOF, maxFrameBytes)
}

func splitFrames(data []byte, atEOF bool, limit int) (advance int, token []byte, err error) {
	start := bytes.Index(data, startMarker)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF that may begin a marker
		if n := len(data); n > 0 && data[n-1] == startMarker[0] {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	if start > 0 {
		return start, nil, nil
	}

	body := data[len(startMarker):]
	end := bytes.Index(body, endMarker)
	if next := bytes.Index(body, startMarker); next >= 0 && (end < 0 || next < end) {
		n := len(startMarker) + next
		return n, data[:n], nil
	}
	if end >= 0 {
		n := len(startMarker) + end + len(endMarker)
		return n, data[:n], nil
	}
	if atEOF {
		// truncated final frame
		return len(data), nil, nil
	}
	if len(data) >= limit {
		// skip the oversized frame and resync on the next start marker
		n := len(data)
		if data[n-1] == startMarker[0] {
			n--
		}
		return n, data[:len(startMarker)], nil
	}
	return 0, nil, nil
}

func (s *FFmpegSource) AcquireFrame(timeout time.Duration) (*Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		select {
		case f := <-s.frames:
			return f, nil
		default:
		}
		return nil, ErrSourceClosed
	case <-timer.C:
		return nil, ErrNoFrame
	}
}

func (s *FFmpegSource) ReleaseFrame(f *Frame) {
	if f == nil {
		return
	}
	s.pool.Put(f)
}

// Close stops ffmpeg, waiting up to five seconds before killing it
func (s *FFmpegSource) Close() error {
	var err error
	s.stop.Do(func() {
		proc.Stop(s.cmd, s.done, 5*time.Second)
		s.mutex.Lock()
		err = proc.ExitError("ffmpeg", s.waitErr)
		s.mutex.Unlock()
	})
	return err
}
