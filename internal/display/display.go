// Package display drives the recorder's two-line status screen.
package display

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
)

// Width is the number of characters a line can hold
const Width = 16

// Display is the two-line text contract of the screen driver
type Display interface {
	ShowLines(line1, line2 string) error
}

// LogDisplay renders screen updates into the log
type LogDisplay struct{}

func (LogDisplay) ShowLines(line1, line2 string) error {
	slog.Info("Display", "line1", line1, "line2", line2)
	return nil
}

// FileDisplay writes both lines to a file, such as a character device
// exposed by a panel driver or a text file polled by a status applet.
type FileDisplay struct {
	fs   afero.Fs
	path string
}

func NewFileDisplay(fs afero.Fs, path string) *FileDisplay {
	return &FileDisplay{fs: fs, path: path}
}

func (d *FileDisplay) ShowLines(line1, line2 string) error {
	text := fmt.Sprintf("%s\n%s\n", fit(line1), fit(line2))
	if err := afero.WriteFile(d.fs, d.path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to update display %s: %w", d.path, err)
	}
	return nil
}

// fit pads or truncates s to exactly Width characters
func fit(s string) string {
	r := []rune(s)
	if len(r) > Width {
		return string(r[:Width])
	}
	return s + strings.Repeat(" ", Width-len(r))
}
