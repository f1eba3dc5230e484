package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ManifestName is the session log kept next to the recordings
const ManifestName = "sessions.yaml"

// Summary is what one session produced
type Summary struct {
	Session       `yaml:",inline"`
	EndedAt       time.Time `json:"ended_at" yaml:"ended_at"`
	Seconds       int       `json:"seconds" yaml:"seconds"`
	AudioBytes    int64     `json:"audio_bytes" yaml:"audio_bytes"`
	PausedBytes   int64     `json:"paused_bytes" yaml:"paused_bytes"`
	FramesWritten int64     `json:"frames_written" yaml:"frames_written"`
	FramesDropped int64     `json:"frames_dropped" yaml:"frames_dropped"`
	AudioError    string    `json:"audio_error,omitempty" yaml:"audio_error,omitempty"`
	VideoError    string    `json:"video_error,omitempty" yaml:"video_error,omitempty"`
}

// Failed reports whether the audio side of the session did not complete
func (s Summary) Failed() bool {
	return s.AudioError != ""
}

type manifest struct {
	Sessions []Summary `yaml:"sessions"`
}

// ReadManifest loads the session log in dir, returning nothing when it does not exist
func ReadManifest(fs afero.Fs, dir string) ([]Summary, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse session manifest: %w", err)
	}
	return m.Sessions, nil
}

// appendManifest rewrites the session log with s added at the end
func appendManifest(fs afero.Fs, dir string, s Summary) error {
	sessions, err := ReadManifest(fs, dir)
	if err != nil {
		// a corrupt log is replaced rather than blocking the recorder
		sessions = nil
	}
	sessions = append(sessions, s)

	data, err := yaml.Marshal(manifest{Sessions: sessions})
	if err != nil {
		return fmt.Errorf("failed to encode session manifest: %w", err)
	}

	path := filepath.Join(dir, ManifestName)
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session manifest: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace session manifest: %w", err)
	}
	return nil
}
