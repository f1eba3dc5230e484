package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// BackendType selects how microphone samples are obtained
type BackendType string

const (
	BackendTypeMalgo    BackendType = "malgo"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeTone     BackendType = "tone"
	BackendTypeAuto     BackendType = "auto"
)

// Source is a SampleSource that owns a device or process
type Source interface {
	SampleSource
	io.Closer
}

// SourceConfig carries what a backend needs to open the microphone
type SourceConfig struct {
	Backend       string
	Target        string
	Format        Format
	BufferSeconds int
	ToneFrequency float64
}

// NewSource opens the microphone using the configured backend
func NewSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	backend := determineBackend(cfg.Backend)
	slog.Debug("Opening audio source", "backend", backend, "target", cfg.Target)

	switch backend {
	case BackendTypePipeWire:
		return NewPipeWireSource(ctx, cfg.Format, cfg.Target, cfg.BufferSeconds)
	case BackendTypeTone:
		return NewToneSource(cfg.Format, cfg.ToneFrequency), nil
	case BackendTypeMalgo:
		return NewMalgoSource(cfg.Format, cfg.BufferSeconds)
	}
	return nil, fmt.Errorf("unknown audio backend: %s", cfg.Backend)
}

func determineBackend(name string) BackendType {
	switch strings.ToLower(name) {
	case "pipewire":
		return BackendTypePipeWire
	case "tone":
		return BackendTypeTone
	case "malgo":
		return BackendTypeMalgo
	case "", "auto":
		// pw-record is preferred when a PipeWire session is running
		if _, err := exec.LookPath("pw-record"); err == nil {
			return BackendTypePipeWire
		}
		return BackendTypeMalgo
	}
	return BackendType(name)
}

// GetAvailableBackends returns the backends usable on this system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypeMalgo, BackendTypeTone}
	if _, err := exec.LookPath("pw-record"); err == nil {
		backends = append([]BackendType{BackendTypePipeWire}, backends...)
	}
	return backends
}
