package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/audiolibrelab/fieldcapture/internal/state"
	"github.com/audiolibrelab/fieldcapture/internal/wire"
)

// Source identifies where a trigger came from
type Source int

const (
	Local Source = iota
	Remote
	// Shutdown ends a session because the recorder is stopping
	Shutdown
)

func (s Source) String() string {
	switch s {
	case Remote:
		return "remote"
	case Shutdown:
		return "shutdown"
	}
	return "local"
}

// Event is a classified, debounced trigger
type Event struct {
	Kind       state.Press
	Source     Source
	OccurredAt time.Time
}

// Config holds the debounce and classification timings
type Config struct {
	PollInterval   time.Duration
	Debounce       time.Duration
	LongPress      time.Duration
	RemoteDebounce time.Duration
}

// DefaultConfig matches the button and radio timings of the recorder hardware
func DefaultConfig() Config {
	return Config{
		PollInterval:   10 * time.Millisecond,
		Debounce:       30 * time.Millisecond,
		LongPress:      500 * time.Millisecond,
		RemoteDebounce: 500 * time.Millisecond,
	}
}

// Aggregator merges the local button and remote commands into the state machine.
// It is the only writer of the state holder.
type Aggregator struct {
	cfg     Config
	state   *state.Holder
	decoder *wire.Decoder

	// OnEvent, when set, is called for every event produced, including
	// events that are no-ops in the current state (from == to)
	OnEvent func(ev Event, from, to state.State)

	mutex sync.Mutex

	// local signal debounce
	pressed      bool
	pending      bool
	pendingSince time.Time
	pressedAt    time.Time

	// remote debounce
	lastRemote    time.Time
	hasLastRemote bool

	events      *atomic.Uint64
	transitions *atomic.Uint64
	rejected    *atomic.Uint64
	bounced     *atomic.Uint64
}

// NewAggregator creates an aggregator writing to holder
func NewAggregator(cfg Config, holder *state.Holder, decoder *wire.Decoder) *Aggregator {
	if decoder == nil {
		decoder = wire.NewDecoder(wire.DefaultPrefix)
	}
	return &Aggregator{
		cfg:         cfg,
		state:       holder,
		decoder:     decoder,
		events:      atomic.NewUint64(0),
		transitions: atomic.NewUint64(0),
		rejected:    atomic.NewUint64(0),
		bounced:     atomic.NewUint64(0),
	}
}

// Signal is a binary physical input sampled at a fixed interval
type Signal interface {
	Pressed() (bool, error)
}

// RunLocal samples sig until ctx is done
func (a *Aggregator) RunLocal(ctx context.Context, sig Signal) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	slog.Debug("Local trigger sampling started", "interval", a.cfg.PollInterval)
	var readErrors uint64
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Local trigger sampling stopped")
			return nil
		case now := <-ticker.C:
			pressed, err := sig.Pressed()
			if err != nil {
				readErrors++
				if readErrors%100 == 1 {
					slog.Warn("Failed to sample trigger signal", "error", err, "count", readErrors)
				}
				continue
			}
			a.OnSample(pressed, now)
		}
	}
}

// OnSample feeds one sample of the local signal.
// A level change is accepted once it has persisted for the debounce window;
// the held duration classifies the release as a short or long press.
func (a *Aggregator) OnSample(pressed bool, at time.Time) {
	a.mutex.Lock()

	if pressed == a.pressed {
		a.pending = false
		a.mutex.Unlock()
		return
	}
	if !a.pending {
		a.pending = true
		a.pendingSince = at
		a.mutex.Unlock()
		return
	}
	if at.Sub(a.pendingSince) < a.cfg.Debounce {
		a.mutex.Unlock()
		return
	}

	a.pending = false
	a.pressed = pressed
	if pressed {
		a.pressedAt = at
		a.mutex.Unlock()
		return
	}

	held := at.Sub(a.pressedAt)
	a.mutex.Unlock()

	kind := state.ShortPress
	if held >= a.cfg.LongPress {
		kind = state.LongPress
	}
	slog.Debug("Button released", "held", held, "kind", kind)
	a.dispatch(Event{Kind: kind, Source: Local, OccurredAt: at})
}

// OnDiscovery handles the service payloads of one received advertisement.
// When several valid commands arrive together the long press wins.
func (a *Aggregator) OnDiscovery(payloads [][]byte, at time.Time) {
	var (
		found bool
		best  wire.Command
	)
	for _, p := range payloads {
		cmd, err := a.decoder.Decode(p)
		if err != nil {
			a.rejected.Inc()
			slog.Debug("Ignoring advertisement payload", "error", err)
			continue
		}
		if !found || (cmd.LongPress && !best.LongPress) {
			best = cmd
			found = true
		}
	}
	if !found {
		return
	}

	a.mutex.Lock()
	if a.hasLastRemote && at.Sub(a.lastRemote) < a.cfg.RemoteDebounce {
		a.mutex.Unlock()
		a.bounced.Inc()
		return
	}
	a.lastRemote = at
	a.hasLastRemote = true
	a.mutex.Unlock()

	a.state.SetRemoteTimestamp(best.Timestamp)
	slog.Info("Remote command received", "kind", best.Kind(), "timestamp", best.Timestamp)
	a.dispatch(Event{Kind: best.Kind(), Source: Remote, OccurredAt: at})
}

// OnScanError is called when the scanner stops with an error
func (a *Aggregator) OnScanError(err error) {
	slog.Error("Advertisement scanning failed", "error", err)
}

// Inject applies an already-classified press, bypassing debounce
func (a *Aggregator) Inject(kind state.Press, source Source) {
	a.dispatch(Event{Kind: kind, Source: source, OccurredAt: time.Now()})
}

func (a *Aggregator) dispatch(ev Event) {
	a.events.Inc()
	from, to, changed := a.state.Apply(ev.Kind)
	if a.OnEvent != nil {
		a.OnEvent(ev, from, to)
	}
	if !changed {
		slog.Debug("Trigger ignored in current state", "kind", ev.Kind, "source", ev.Source, "state", from)
		return
	}

	a.transitions.Inc()
	switch {
	case from == state.Idle:
		slog.Info("Recording started", "source", ev.Source)
	case to == state.Idle:
		slog.Info("Recording stopped", "source", ev.Source)
	case to == state.Paused:
		slog.Info("Paused", "source", ev.Source)
	default:
		slog.Info("Resumed", "source", ev.Source)
	}
}

// Stats is a snapshot of the aggregator counters
type Stats struct {
	Events      uint64 `json:"events"`
	Transitions uint64 `json:"transitions"`
	Rejected    uint64 `json:"rejected"`
	Bounced     uint64 `json:"bounced"`
}

// Stats returns the current counters
func (a *Aggregator) Stats() Stats {
	return Stats{
		Events:      a.events.Load(),
		Transitions: a.transitions.Load(),
		Rejected:    a.rejected.Load(),
		Bounced:     a.bounced.Load(),
	}
}
