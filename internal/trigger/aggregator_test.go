package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/fieldcapture/internal/state"
	"github.com/audiolibrelab/fieldcapture/internal/wire"
)

func newTestAggregator() (*Aggregator, *state.Holder) {
	holder := state.NewHolder()
	return NewAggregator(DefaultConfig(), holder, nil), holder
}

// press simulates holding the button for held, sampling every 10ms
func press(a *Aggregator, start time.Time, held time.Duration) time.Time {
	t := start
	for ; t.Sub(start) <= held; t = t.Add(10 * time.Millisecond) {
		a.OnSample(true, t)
	}
	end := t
	for ; t.Sub(end) <= 60*time.Millisecond; t = t.Add(10 * time.Millisecond) {
		a.OnSample(false, t)
	}
	return t
}

func TestOnSample_LongPressStartsRecording(t *testing.T) {
	a, holder := newTestAggregator()

	press(a, time.Unix(0, 0), 800*time.Millisecond)

	if holder.Current() != state.Recording {
		t.Errorf("Expected RECORDING, got %s", holder.Current())
	}
}

func TestOnSample_ShortPressWhileIdleIsNoop(t *testing.T) {
	a, holder := newTestAggregator()

	press(a, time.Unix(0, 0), 150*time.Millisecond)

	if holder.Current() != state.Idle {
		t.Errorf("Expected IDLE, got %s", holder.Current())
	}
	if a.Stats().Events != 1 || a.Stats().Transitions != 0 {
		t.Errorf("Expected one no-op event, got %+v", a.Stats())
	}
}

func TestOnSample_PauseResumeStop(t *testing.T) {
	a, holder := newTestAggregator()
	now := time.Unix(0, 0)

	now = press(a, now, 700*time.Millisecond)
	now = press(a, now, 100*time.Millisecond)
	if holder.Current() != state.Paused {
		t.Fatalf("Expected PAUSED, got %s", holder.Current())
	}

	now = press(a, now, 100*time.Millisecond)
	if holder.Current() != state.Recording {
		t.Fatalf("Expected RECORDING after resume, got %s", holder.Current())
	}

	now = press(a, now, 100*time.Millisecond)
	press(a, now, 600*time.Millisecond)
	if holder.Current() != state.Idle {
		t.Errorf("Expected IDLE after long press from PAUSED, got %s", holder.Current())
	}
}

func TestOnSample_GlitchShorterThanDebounceIgnored(t *testing.T) {
	a, holder := newTestAggregator()
	t0 := time.Unix(0, 0)

	// 20ms spikes never survive the 30ms window
	for i := 0; i < 50; i++ {
		base := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		a.OnSample(true, base)
		a.OnSample(true, base.Add(10*time.Millisecond))
		a.OnSample(false, base.Add(20*time.Millisecond))
	}

	if holder.Current() != state.Idle || a.Stats().Events != 0 {
		t.Errorf("Expected no events from glitches, got state %s stats %+v", holder.Current(), a.Stats())
	}
}

func TestOnSample_ThresholdBoundary(t *testing.T) {
	a, holder := newTestAggregator()
	t0 := time.Unix(0, 0)

	// pressed accepted at t0+30ms, released accepted at t0+530ms: held exactly 500ms
	a.OnSample(true, t0)
	a.OnSample(true, t0.Add(30*time.Millisecond))
	a.OnSample(false, t0.Add(500*time.Millisecond))
	a.OnSample(false, t0.Add(530*time.Millisecond))

	if holder.Current() != state.Recording {
		t.Errorf("Expected a press held for the threshold to be long, got %s", holder.Current())
	}
}

func TestOnDiscovery_RemoteDebounce(t *testing.T) {
	a, holder := newTestAggregator()
	t0 := time.Unix(1000, 0)
	payload := wire.Encode(wire.DefaultPrefix, true, time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC))

	a.OnDiscovery([][]byte{payload}, t0)
	a.OnDiscovery([][]byte{payload}, t0.Add(200*time.Millisecond))
	a.OnDiscovery([][]byte{payload}, t0.Add(499*time.Millisecond))

	if a.Stats().Events != 1 {
		t.Errorf("Expected exactly one event, got %d", a.Stats().Events)
	}
	if a.Stats().Bounced != 2 {
		t.Errorf("Expected 2 bounced commands, got %d", a.Stats().Bounced)
	}
	if holder.Current() != state.Recording {
		t.Errorf("Expected RECORDING, got %s", holder.Current())
	}

	a.OnDiscovery([][]byte{payload}, t0.Add(600*time.Millisecond))
	if a.Stats().Events != 2 || holder.Current() != state.Idle {
		t.Errorf("Expected second event after window, got %d events in %s", a.Stats().Events, holder.Current())
	}
}

func TestOnDiscovery_StoresTimestampForDisplay(t *testing.T) {
	a, holder := newTestAggregator()
	payload := wire.Encode(wire.DefaultPrefix, false, time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC))

	a.OnDiscovery([][]byte{payload}, time.Unix(0, 0))

	ts, ok := holder.TakeRemoteTimestamp()
	if !ok || ts != "20240115_103045" {
		t.Errorf("Expected timestamp slot to be set, got %q (ok=%v)", ts, ok)
	}
}

func TestOnDiscovery_InvalidPayloadNeverChangesState(t *testing.T) {
	a, holder := newTestAggregator()
	bad := wire.Encode(wire.DefaultPrefix, true, time.Now())
	bad[0] ^= 0xFF

	a.OnDiscovery([][]byte{bad, {0x01, 0x02}}, time.Unix(0, 0))

	if holder.Current() != state.Idle || a.Stats().Events != 0 {
		t.Errorf("Expected no change, got %s and %+v", holder.Current(), a.Stats())
	}
	if a.Stats().Rejected != 2 {
		t.Errorf("Expected 2 rejected payloads, got %d", a.Stats().Rejected)
	}
	if _, ok := holder.TakeRemoteTimestamp(); ok {
		t.Error("Rejected payloads must not set the timestamp slot")
	}

	// a rejected payload does not arm the debounce window
	a.OnDiscovery([][]byte{wire.Encode(wire.DefaultPrefix, true, time.Now())}, time.Unix(0, int64(time.Millisecond)))
	if holder.Current() != state.Recording {
		t.Errorf("Expected RECORDING, got %s", holder.Current())
	}
}

func TestOnDiscovery_LongPressWins(t *testing.T) {
	a, holder := newTestAggregator()
	short := wire.Encode(wire.DefaultPrefix, false, time.Now())
	long := wire.Encode(wire.DefaultPrefix, true, time.Now())

	a.OnDiscovery([][]byte{short, long}, time.Unix(0, 0))

	if holder.Current() != state.Recording {
		t.Errorf("Expected long press to start recording, got %s", holder.Current())
	}
}

func TestRunLocal_SamplesSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.Debounce = 3 * time.Millisecond
	cfg.LongPress = 20 * time.Millisecond
	holder := state.NewHolder()
	a := NewAggregator(cfg, holder, nil)

	button := NewVirtualButton()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunLocal(ctx, button)
		close(done)
	}()

	button.Set(true)
	time.Sleep(80 * time.Millisecond)
	button.Set(false)

	deadline := time.Now().Add(2 * time.Second)
	for holder.Current() != state.Recording && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if holder.Current() != state.Recording {
		t.Errorf("Expected RECORDING, got %s", holder.Current())
	}
}

func TestFileSignal_ActiveLow(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/gpio/value", []byte("1\n"), 0644)
	sig := NewFileSignal(fs, "/gpio/value", true)

	pressed, err := sig.Pressed()
	if err != nil || pressed {
		t.Errorf("Expected released for high level, got %v (err=%v)", pressed, err)
	}

	afero.WriteFile(fs, "/gpio/value", []byte("0\n"), 0644)
	pressed, err = sig.Pressed()
	if err != nil || !pressed {
		t.Errorf("Expected pressed for low level, got %v (err=%v)", pressed, err)
	}

	afero.WriteFile(fs, "/gpio/value", []byte("x"), 0644)
	if _, err := sig.Pressed(); err == nil {
		t.Error("Expected error for garbage value")
	}
}
