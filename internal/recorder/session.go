package recorder

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Session is one Idle->Recording->Idle cycle. Both capture loops read it,
// neither changes it.
type Session struct {
	Index     uint32    `json:"index" yaml:"index"`
	ID        string    `json:"id" yaml:"id"`
	AudioPath string    `json:"audio_path" yaml:"audio_path"`
	VideoPath string    `json:"video_path,omitempty" yaml:"video_path,omitempty"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
}

// Naming derives capture file names from printf patterns such as "mic_%04d.wav"
type Naming struct {
	Dir          string
	AudioPattern string
	VideoPattern string
}

var verbPattern = regexp.MustCompile(`%0?[0-9]*d`)

// ValidatePattern checks that pattern holds exactly one integer verb
func ValidatePattern(pattern string) error {
	if n := len(verbPattern.FindAllStringIndex(pattern, -1)); n != 1 {
		return fmt.Errorf("file pattern %q must contain exactly one %%d verb, found %d", pattern, n)
	}
	if strings.Count(pattern, "%") != 1 {
		return fmt.Errorf("file pattern %q contains extra %% verbs", pattern)
	}
	if strings.ContainsRune(pattern, '/') {
		return fmt.Errorf("file pattern %q must be a bare file name", pattern)
	}
	return nil
}

// patternRegexp turns "mic_%04d.wav" into ^mic_(\d+)\.wav$
func patternRegexp(pattern string) (*regexp.Regexp, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	loc := verbPattern.FindStringIndex(pattern)
	expr := "^" + regexp.QuoteMeta(pattern[:loc[0]]) + `(\d+)` + regexp.QuoteMeta(pattern[loc[1]:]) + "$"
	return regexp.Compile(expr)
}

func (n Naming) paths(index uint32, withVideo bool) (string, string) {
	audioPath := filepath.Join(n.Dir, fmt.Sprintf(n.AudioPattern, index))
	if !withVideo {
		return audioPath, ""
	}
	return audioPath, filepath.Join(n.Dir, fmt.Sprintf(n.VideoPattern, index))
}

// HighestIndex scans dir for files produced by either pattern and
// returns the largest index found, or 0 when there are none.
func (n Naming) HighestIndex(fs afero.Fs) (uint32, error) {
	var exprs []*regexp.Regexp
	for _, p := range []string{n.AudioPattern, n.VideoPattern} {
		if p == "" {
			continue
		}
		re, err := patternRegexp(p)
		if err != nil {
			return 0, err
		}
		exprs = append(exprs, re)
	}

	entries, err := afero.ReadDir(fs, n.Dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", n.Dir, err)
	}

	var highest uint32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, re := range exprs {
			m := re.FindStringSubmatch(entry.Name())
			if m == nil {
				continue
			}
			idx, err := strconv.ParseUint(m[1], 10, 32)
			if err == nil && uint32(idx) > highest {
				highest = uint32(idx)
			}
		}
	}
	return highest, nil
}

// Match reports whether name was produced by one of the patterns and
// returns "audio" or "video" with the index it carries
func (n Naming) Match(name string) (string, uint32, bool) {
	for _, p := range [...]struct{ kind, pattern string }{
		{"audio", n.AudioPattern},
		{"video", n.VideoPattern},
	} {
		if p.pattern == "" {
			continue
		}
		re, err := patternRegexp(p.pattern)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		idx, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		return p.kind, uint32(idx), true
	}
	return "", 0, false
}

func newSession(index uint32, audioPath, videoPath string, now time.Time) *Session {
	return &Session{
		Index:     index,
		ID:        uuid.NewString(),
		AudioPath: audioPath,
		VideoPath: videoPath,
		StartedAt: now,
	}
}
