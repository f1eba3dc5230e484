//go:build !linux

package storage

import (
	"errors"
	"os"
)

var errNoGadget = errors.New("storage: USB gadget mounts require linux")

// SystemMounter is unavailable off linux; use the directory backend instead
type SystemMounter struct{}

func (SystemMounter) Mount(source, target, fstype, data string) error { return errNoGadget }

func (SystemMounter) Unmount(target string) error { return errNoGadget }

func (SystemMounter) Sync() {}

func (SystemMounter) IsMountPoint(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, err
	}
	return false, nil
}
