package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
)

// Mounter is the slice of the mount syscalls the gadget controller needs
type Mounter interface {
	Mount(source, target, fstype, data string) error
	Unmount(target string) error
	Sync()
	IsMountPoint(path string) (bool, error)
}

// GadgetConfig locates the block device and the mass-storage LUN
type GadgetConfig struct {
	BlockDevice  string
	MountPoint   string
	FsType       string
	MountOptions string
	// LunFile is the configfs backing-file attribute of the gadget's LUN,
	// e.g. /sys/kernel/config/usb_gadget/g1/functions/mass_storage.0/lun.0/file
	LunFile string
}

// GadgetController exposes the medium through a Linux USB mass-storage gadget
// and mounts it locally when the recorder owns it.
type GadgetController struct {
	cfg     GadgetConfig
	fs      afero.Fs
	mounter Mounter
}

func NewGadgetController(cfg GadgetConfig, fs afero.Fs, mounter Mounter) (*GadgetController, error) {
	if cfg.BlockDevice == "" || cfg.MountPoint == "" || cfg.LunFile == "" {
		return nil, fmt.Errorf("gadget storage needs block_device, mount_point and gadget_lun")
	}
	if cfg.FsType == "" {
		cfg.FsType = "vfat"
	}
	return &GadgetController{cfg: cfg, fs: fs, mounter: mounter}, nil
}

func (g *GadgetController) SetMountExposure(mode Mode) error {
	switch mode {
	case HostExposed:
		return g.exposeToHost()
	case DeviceOwned:
		return g.exposeToDevice()
	}
	return fmt.Errorf("cannot switch storage to %s", mode)
}

func (g *GadgetController) exposeToHost() error {
	g.mounter.Sync()
	if mounted, _ := g.mounter.IsMountPoint(g.cfg.MountPoint); mounted {
		if err := g.mounter.Unmount(g.cfg.MountPoint); err != nil {
			return fmt.Errorf("failed to unmount %s: %w", g.cfg.MountPoint, err)
		}
	}
	if err := afero.WriteFile(g.fs, g.cfg.LunFile, []byte(g.cfg.BlockDevice), 0644); err != nil {
		return fmt.Errorf("failed to attach %s to the gadget: %w", g.cfg.BlockDevice, err)
	}
	slog.Debug("Block device attached to USB gadget", "device", g.cfg.BlockDevice)
	return nil
}

func (g *GadgetController) exposeToDevice() error {
	// an empty backing file ejects the medium from the host
	if err := afero.WriteFile(g.fs, g.cfg.LunFile, []byte("\n"), 0644); err != nil {
		return fmt.Errorf("failed to detach medium from the gadget: %w", err)
	}
	if mounted, _ := g.mounter.IsMountPoint(g.cfg.MountPoint); mounted {
		return nil
	}
	if err := g.mounter.Mount(g.cfg.BlockDevice, g.cfg.MountPoint, g.cfg.FsType, g.cfg.MountOptions); err != nil {
		return fmt.Errorf("failed to mount %s on %s: %w", g.cfg.BlockDevice, g.cfg.MountPoint, err)
	}
	slog.Debug("Medium mounted locally", "device", g.cfg.BlockDevice, "mount_point", g.cfg.MountPoint)
	return nil
}

func (g *GadgetController) IsMounted(path string) bool {
	mounted, err := g.mounter.IsMountPoint(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("Mount probe failed", "path", path, "error", err)
	}
	return mounted
}
