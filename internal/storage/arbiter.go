// Package storage switches the recording medium between the USB host and the
// recorder itself. Only one side may own it at a time.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ErrNotMounted is returned when the medium did not appear within the mount timeout
var ErrNotMounted = errors.New("storage: medium not mounted")

// Mode tells who currently owns the medium
type Mode int32

const (
	ModeUnknown Mode = iota
	HostExposed
	DeviceOwned
)

func (m Mode) String() string {
	switch m {
	case HostExposed:
		return "host"
	case DeviceOwned:
		return "device"
	}
	return "unknown"
}

// MountController performs the platform-specific exposure switch
type MountController interface {
	SetMountExposure(mode Mode) error
	IsMounted(path string) bool
}

// ArbiterConfig bounds how long WaitMounted polls
type ArbiterConfig struct {
	MountPoint   string
	MountTimeout time.Duration
	MountPoll    time.Duration
}

// Arbiter serializes exposure switches and remembers the current owner
type Arbiter struct {
	cfg  ArbiterConfig
	ctrl MountController

	mutex sync.Mutex
	mode  *atomic.Int32
}

func NewArbiter(ctrl MountController, cfg ArbiterConfig) *Arbiter {
	if cfg.MountTimeout <= 0 {
		cfg.MountTimeout = 2 * time.Second
	}
	if cfg.MountPoll <= 0 {
		cfg.MountPoll = 50 * time.Millisecond
	}
	return &Arbiter{
		cfg:  cfg,
		ctrl: ctrl,
		mode: atomic.NewInt32(int32(ModeUnknown)),
	}
}

func (a *Arbiter) Mode() Mode {
	return Mode(a.mode.Load())
}

// ExposeToHost hands the medium to the USB host. Callers must guarantee
// that no capture file is open.
func (a *Arbiter) ExposeToHost() error {
	return a.switchTo(HostExposed)
}

// ExposeToDevice takes the medium back so the recorder can write to it
func (a *Arbiter) ExposeToDevice() error {
	return a.switchTo(DeviceOwned)
}

func (a *Arbiter) switchTo(target Mode) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.Mode() == target {
		return nil
	}
	if err := a.ctrl.SetMountExposure(target); err != nil {
		// a half-done switch leaves ownership unknown so the next call retries it
		a.mode.Store(int32(ModeUnknown))
		return fmt.Errorf("failed to expose storage to %s: %w", target, err)
	}
	a.mode.Store(int32(target))
	slog.Info("Storage ownership switched", "mode", target, "mount_point", a.cfg.MountPoint)
	return nil
}

// WaitMounted polls until the mount point is observable or the timeout passes
func (a *Arbiter) WaitMounted(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.MountTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.MountPoll)
	defer ticker.Stop()

	for {
		if a.ctrl.IsMounted(a.cfg.MountPoint) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %s", ErrNotMounted, a.cfg.MountPoint, a.cfg.MountTimeout)
		case <-ticker.C:
		}
	}
}
