//go:build linux

package storage

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SystemMounter performs real mounts through the kernel
type SystemMounter struct{}

func (SystemMounter) Mount(source, target, fstype, data string) error {
	return unix.Mount(source, target, fstype, unix.MS_NOATIME, data)
}

func (SystemMounter) Unmount(target string) error {
	return unix.Unmount(target, 0)
}

func (SystemMounter) Sync() {
	unix.Sync()
}

// IsMountPoint reports whether path sits on a different device than its parent
func (SystemMounter) IsMountPoint(path string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := unix.Stat(filepath.Dir(filepath.Clean(path)), &parent); err != nil {
		return false, fmt.Errorf("stat parent of %s: %w", path, err)
	}
	// the root of a filesystem is its own parent
	return st.Dev != parent.Dev || st.Ino == parent.Ino, nil
}
