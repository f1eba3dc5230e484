package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// MalgoSource captures from the default input device through miniaudio
type MalgoSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	buffer *sampleBuffer
	format Format

	mutex sync.Mutex
}

func malgoFormat(bits uint16) (malgo.FormatType, error) {
	switch bits {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("unsupported bit depth %d", bits)
}

// NewMalgoSource opens and starts the capture device. bufferSeconds bounds
// how much audio is held when the consumer falls behind.
func NewMalgoSource(f Format, bufferSeconds int) (*MalgoSource, error) {
	sampleFormat, err := malgoFormat(f.BitsPerSample)
	if err != nil {
		return nil, err
	}
	if bufferSeconds <= 0 {
		bufferSeconds = 2
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	s := &MalgoSource{
		ctx:    ctx,
		buffer: newSampleBuffer(bufferSeconds*f.ByteRate(), f.BlockAlign()),
		format: f,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = sampleFormat
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = f.SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.buffer.push(input)
		},
		Stop: func() {
			s.buffer.close(nil)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("failed to init capture device: %w", err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		s.freeContext()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	slog.Info("Capture device started", "backend", "malgo", "rate", f.SampleRate, "channels", f.Channels)
	return s, nil
}

func (s *MalgoSource) ReadSamples(buf []byte, timeout time.Duration) (int, error) {
	return s.buffer.read(buf, timeout)
}

// Overrun returns the bytes dropped because the reader fell behind
func (s *MalgoSource) Overrun() int64 {
	return s.buffer.overrunBytes()
}

func (s *MalgoSource) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var err error
	if s.device != nil {
		err = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	s.buffer.close(nil)
	s.freeContext()
	if dropped := s.buffer.overrunBytes(); dropped > 0 {
		slog.Warn("Capture device overran", "dropped_bytes", dropped)
	}
	return err
}

func (s *MalgoSource) freeContext() {
	if s.ctx == nil {
		return
	}
	if err := s.ctx.Uninit(); err != nil {
		slog.Debug("Failed to uninit audio context", "error", err)
	}
	s.ctx.Free()
	s.ctx = nil
}
