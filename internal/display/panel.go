package display

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/state"
)

// StateSource is what the panel reads from the recorder
type StateSource interface {
	Current() state.State
	TakeRemoteTimestamp() (string, bool)
}

// Panel keeps the screen in step with the recorder.
// While idle it shows the last session summary; while a session runs it shows
// the elapsed recording time or PAUSED. A timestamp carried by a remote
// command is shown once for the hold period.
type Panel struct {
	display Display
	source  StateSource
	hold    time.Duration

	mutex      sync.Mutex
	idle       [2]string
	shown      [2]string
	last       state.State
	lastTick   time.Time
	elapsed    time.Duration
	remote     string
	remoteTill time.Time
}

func NewPanel(d Display, source StateSource, hold time.Duration) *Panel {
	if hold <= 0 {
		hold = 2 * time.Second
	}
	return &Panel{
		display: d,
		source:  source,
		hold:    hold,
		idle:    [2]string{"Ready", ""},
	}
}

// SetIdle replaces the lines shown while no session is running
func (p *Panel) SetIdle(line1, line2 string) {
	p.mutex.Lock()
	p.idle = [2]string{line1, line2}
	p.mutex.Unlock()
}

// SetSummary shows how much was captured and where, like "Recorded 12s at" / "mic_0003.wav"
func (p *Panel) SetSummary(seconds int, file string) {
	p.SetIdle(fmt.Sprintf("Recorded %ds at", seconds), file)
}

// Refresh renders the screen for time now. The lock is held across the
// write so concurrent callers cannot leave stale lines on screen.
func (p *Panel) Refresh(now time.Time) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	current := p.source.Current()
	if !p.last.Active() && current.Active() {
		p.elapsed = 0
		p.lastTick = now
	}
	if p.last == state.Recording && !p.lastTick.IsZero() {
		p.elapsed += now.Sub(p.lastTick)
	}
	p.last = current
	p.lastTick = now

	if ts, ok := p.source.TakeRemoteTimestamp(); ok {
		p.remote = ts
		p.remoteTill = now.Add(p.hold)
	}

	var lines [2]string
	switch {
	case p.remote != "" && now.Before(p.remoteTill):
		lines = [2]string{"Remote command", p.remote}
	case current == state.Recording:
		lines = [2]string{fmt.Sprintf("REC %s", clock(p.elapsed)), ""}
	case current == state.Paused:
		lines = [2]string{"PAUSED", clock(p.elapsed)}
	default:
		p.remote = ""
		lines = p.idle
	}

	if lines == p.shown {
		return nil
	}
	if err := p.display.ShowLines(lines[0], lines[1]); err != nil {
		return err
	}
	p.shown = lines
	return nil
}

// Run refreshes the screen every interval until ctx is done
func (p *Panel) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Refresh(time.Now()); err != nil {
			slog.Warn("Display update failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// clock formats d as mm:ss
func clock(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
