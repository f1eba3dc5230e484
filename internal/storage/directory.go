package storage

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
)

// DirectoryController treats a plain directory as the medium.
// Used on development hosts where no USB gadget exists.
type DirectoryController struct {
	fs  afero.Fs
	dir string
}

func NewDirectoryController(fs afero.Fs, dir string) *DirectoryController {
	return &DirectoryController{fs: fs, dir: dir}
}

func (d *DirectoryController) SetMountExposure(mode Mode) error {
	if mode == DeviceOwned {
		if err := d.fs.MkdirAll(d.dir, 0755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	slog.Debug("Directory storage exposure", "dir", d.dir, "mode", mode)
	return nil
}

func (d *DirectoryController) IsMounted(path string) bool {
	ok, err := afero.DirExists(d.fs, path)
	return err == nil && ok
}
