package state

import (
	"math/rand"
	"sync"
	"testing"
)

func TestNext_TransitionTable(t *testing.T) {
	tests := []struct {
		from    State
		press   Press
		to      State
		changed bool
	}{
		{Idle, LongPress, Recording, true},
		{Idle, ShortPress, Idle, false},
		{Recording, ShortPress, Paused, true},
		{Recording, LongPress, Idle, true},
		{Paused, ShortPress, Recording, true},
		{Paused, LongPress, Idle, true},
	}

	for _, tt := range tests {
		to, changed := Next(tt.from, tt.press)
		if to != tt.to || changed != tt.changed {
			t.Errorf("Next(%s, %s) = (%s, %v), want (%s, %v)", tt.from, tt.press, to, changed, tt.to, tt.changed)
		}
	}
}

func TestHolder_RandomInterleavingsFollowTable(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := NewHolder()
	model := Idle
	starts := uint64(0)

	for i := 0; i < 10000; i++ {
		p := ShortPress
		if rng.Intn(3) == 0 {
			p = LongPress
		}

		from, to, changed := h.Apply(p)
		if from != model {
			t.Fatalf("step %d: holder was %s, model %s", i, from, model)
		}

		want, wantChanged := Next(model, p)
		if to != want || changed != wantChanged {
			t.Fatalf("step %d: %s+%s gave (%s,%v), want (%s,%v)", i, from, p, to, changed, want, wantChanged)
		}
		// Idle<->Paused edges never exist
		if (from == Idle && to == Paused) || (from == Paused && to == Idle && p != LongPress) {
			t.Fatalf("step %d: illegal edge %s -> %s", i, from, to)
		}
		if from == Idle && to == Recording {
			starts++
		}
		model = want
	}

	if h.Sessions() != starts {
		t.Errorf("Expected %d sessions, got %d", starts, h.Sessions())
	}
}

func TestHolder_ConcurrentApplyKeepsValidState(t *testing.T) {
	h := NewHolder()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 1000; i++ {
				if rng.Intn(2) == 0 {
					h.Apply(LongPress)
				} else {
					h.Apply(ShortPress)
				}
				s := h.Current()
				if s != Idle && s != Recording && s != Paused {
					t.Errorf("invalid state %d", s)
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()
}

func TestHolder_PauseClearedByStop(t *testing.T) {
	h := NewHolder()
	h.Apply(LongPress)
	h.Apply(ShortPress)
	if !h.IsPaused() {
		t.Fatal("Expected paused")
	}

	h.Apply(LongPress)
	if h.IsPaused() || h.IsRecording() {
		t.Errorf("Expected idle after stop, got %s", h.Current())
	}
}

func TestHolder_RemoteTimestampDrainsOnce(t *testing.T) {
	h := NewHolder()

	if _, ok := h.TakeRemoteTimestamp(); ok {
		t.Error("Expected empty slot before any remote command")
	}

	h.SetRemoteTimestamp("20240115_103045")
	ts, ok := h.TakeRemoteTimestamp()
	if !ok || ts != "20240115_103045" {
		t.Errorf("Expected 20240115_103045, got %q (ok=%v)", ts, ok)
	}

	if _, ok := h.TakeRemoteTimestamp(); ok {
		t.Error("Expected slot to be drained")
	}
}
