package trigger

import (
	"bytes"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/atomic"
)

// FileSignal reads a GPIO level from a sysfs-style value file ("0" or "1")
type FileSignal struct {
	fs        afero.Fs
	path      string
	activeLow bool
}

// NewFileSignal creates a signal backed by path. With activeLow a "0" reads as pressed,
// which is how a pulled-up push button is wired.
func NewFileSignal(fs afero.Fs, path string, activeLow bool) *FileSignal {
	return &FileSignal{fs: fs, path: path, activeLow: activeLow}
}

// Pressed reads the current level
func (s *FileSignal) Pressed() (bool, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return false, fmt.Errorf("failed to read signal %s: %w", s.path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return false, fmt.Errorf("empty signal value in %s", s.path)
	}

	var high bool
	switch data[0] {
	case '0':
		high = false
	case '1':
		high = true
	default:
		return false, fmt.Errorf("unexpected signal value %q in %s", data, s.path)
	}

	return high != s.activeLow, nil
}

// VirtualButton is a signal driven in software, used by the simulator
type VirtualButton struct {
	pressed *atomic.Bool
}

// NewVirtualButton creates a released button
func NewVirtualButton() *VirtualButton {
	return &VirtualButton{pressed: atomic.NewBool(false)}
}

// Set changes the button level
func (b *VirtualButton) Set(pressed bool) {
	b.pressed.Store(pressed)
}

// Pressed implements Signal
func (b *VirtualButton) Pressed() (bool, error) {
	return b.pressed.Load(), nil
}
