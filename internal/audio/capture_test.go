package audio

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/fieldcapture/internal/state"
)

var testFormat = Format{SampleRate: 1000, BitsPerSample: 16, Channels: 1}

const testChunkSamples = 100 // 200 bytes, ten chunks per second

// scriptedSource returns chunks of fill bytes; onRead runs before every read
type scriptedSource struct {
	fill   byte
	reads  int
	failAt int
	onRead func(i int)
}

func (s *scriptedSource) ReadSamples(buf []byte, timeout time.Duration) (int, error) {
	i := s.reads
	s.reads++
	if s.onRead != nil {
		s.onRead(i)
	}
	if s.failAt > 0 && i >= s.failAt {
		return 0, ErrReadTimeout
	}
	for j := range buf {
		buf[j] = s.fill
	}
	return len(buf), nil
}

func recordingHolder() *state.Holder {
	h := state.NewHolder()
	h.Apply(state.LongPress)
	return h
}

func testLoopConfig(fs afero.Fs, src SampleSource, st state.Reader) LoopConfig {
	return LoopConfig{
		Fs:                 fs,
		Path:               "/sd/mic_0001.wav",
		Source:             src,
		State:              st,
		Format:             testFormat,
		ChunkSamples:       testChunkSamples,
		ReadTimeout:        time.Second,
		CheckpointInterval: time.Second,
	}
}

func readHeaderFrom(t *testing.T, data []byte) (Format, uint32) {
	t.Helper()
	f, n, err := ReadHeader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	return f, n
}

func assertPlayable(t *testing.T, data []byte, wantPCM int) {
	t.Helper()
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		t.Fatalf("Expected a valid WAV file of %d bytes", len(data))
	}
	if err := d.FwdToPCM(); err != nil {
		t.Fatalf("FwdToPCM failed: %v", err)
	}
	if d.PCMSize != wantPCM {
		t.Errorf("Expected PCM size %d, got %d", wantPCM, d.PCMSize)
	}
	if int(d.SampleRate) != int(testFormat.SampleRate) || int(d.BitDepth) != int(testFormat.BitsPerSample) {
		t.Errorf("Unexpected format rate=%d depth=%d", d.SampleRate, d.BitDepth)
	}
}

func TestCapture_StopsWhenIdle(t *testing.T) {
	fs := afero.NewMemMapFs()
	holder := recordingHolder()
	src := &scriptedSource{fill: 0x5A, onRead: func(i int) {
		if i == 24 {
			holder.Apply(state.LongPress)
		}
	}}

	res, err := Capture(testLoopConfig(fs, src, holder))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if res.Reason != StopStateIdle {
		t.Errorf("Expected stop reason state, got %s", res.Reason)
	}
	wantBytes := int64(25 * testChunkSamples * 2)
	if res.DataBytes != wantBytes {
		t.Errorf("Expected %d bytes, got %d", wantBytes, res.DataBytes)
	}
	if res.Checkpoints != 2 {
		t.Errorf("Expected 2 checkpoints, got %d", res.Checkpoints)
	}

	data, _ := afero.ReadFile(fs, "/sd/mic_0001.wav")
	if len(data) != HeaderSize+int(wantBytes) {
		t.Fatalf("Expected file of %d bytes, got %d", HeaderSize+wantBytes, len(data))
	}
	format, declared := readHeaderFrom(t, data)
	if format != testFormat || declared != uint32(wantBytes) {
		t.Errorf("Header mismatch: %+v declares %d", format, declared)
	}
	assertPlayable(t, data, int(wantBytes))
}

func TestCapture_IdleBeforeStartWritesEmptyContainer(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &scriptedSource{fill: 1}

	res, err := Capture(testLoopConfig(fs, src, state.NewHolder()))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.DataBytes != 0 || src.reads != 0 {
		t.Errorf("Expected no samples, got %d bytes after %d reads", res.DataBytes, src.reads)
	}
	data, _ := afero.ReadFile(fs, "/sd/mic_0001.wav")
	if _, declared := readHeaderFrom(t, data); declared != 0 || len(data) != HeaderSize {
		t.Errorf("Expected bare header, got %d bytes declaring %d", len(data), declared)
	}
}

// snapshotFs records the full file content every time a file is synced
type snapshotFs struct {
	afero.Fs
	mu        sync.Mutex
	snapshots [][]byte
}

type snapshotFile struct {
	afero.File
	fs *snapshotFs
}

func (s *snapshotFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := s.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &snapshotFile{File: f, fs: s}, nil
}

func (f *snapshotFile) Sync() error {
	if err := f.File.Sync(); err != nil {
		return err
	}
	data, err := afero.ReadFile(f.fs.Fs, f.Name())
	if err != nil {
		return err
	}
	f.fs.mu.Lock()
	f.fs.snapshots = append(f.fs.snapshots, data)
	f.fs.mu.Unlock()
	return nil
}

func TestCapture_CheckpointsDeclareFlushedLength(t *testing.T) {
	fs := &snapshotFs{Fs: afero.NewMemMapFs()}
	holder := recordingHolder()
	src := &scriptedSource{fill: 0x11, onRead: func(i int) {
		if i == 47 {
			holder.Apply(state.LongPress)
		}
	}}

	res, err := Capture(testLoopConfig(fs, src, holder))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Checkpoints != 4 {
		t.Fatalf("Expected 4 checkpoints, got %d", res.Checkpoints)
	}

	exact := 0
	for i, snap := range fs.snapshots {
		_, declared := readHeaderFrom(t, snap)
		if int(declared) > len(snap)-HeaderSize {
			t.Fatalf("snapshot %d declares %d bytes but only %d are present", i, declared, len(snap)-HeaderSize)
		}
		if int(declared) == len(snap)-HeaderSize {
			exact++
		}
		if declared%uint32(testFormat.ByteRate()) != 0 && int(declared) != int(res.DataBytes) {
			t.Errorf("snapshot %d declares %d, not a checkpoint boundary", i, declared)
		}

		// a crash right here leaves a file that plays up to the declared length
		if declared > 0 {
			assertPlayable(t, snap[:HeaderSize+int(declared)], int(declared))
		}
	}

	// one exact snapshot per checkpoint plus the final close
	if exact != res.Checkpoints+1 {
		t.Errorf("Expected %d exact snapshots, got %d", res.Checkpoints+1, exact)
	}
}

func TestCapture_PausedChunksAreSilent(t *testing.T) {
	fs := afero.NewMemMapFs()
	holder := recordingHolder()
	src := &scriptedSource{fill: 0x5A, onRead: func(i int) {
		switch i {
		case 3, 6:
			holder.Apply(state.ShortPress)
		case 9:
			holder.Apply(state.LongPress)
		}
	}}

	res, err := Capture(testLoopConfig(fs, src, holder))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	chunk := testChunkSamples * 2
	if res.DataBytes != int64(10*chunk) {
		t.Fatalf("Expected 10 chunks, got %d bytes", res.DataBytes)
	}
	if res.PausedBytes != int64(3*chunk) {
		t.Errorf("Expected 3 paused chunks, got %d bytes", res.PausedBytes)
	}

	data, _ := afero.ReadFile(fs, "/sd/mic_0001.wav")
	samples := data[HeaderSize:]
	for i, b := range samples {
		paused := i/chunk >= 3 && i/chunk < 6
		if paused && b != 0 {
			t.Fatalf("byte %d written while paused is 0x%02x", i, b)
		}
		if !paused && b != 0x5A {
			t.Fatalf("byte %d written while recording is 0x%02x", i, b)
		}
	}
}

func TestCapture_ReadTimeoutAbortsWithAccurateHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &scriptedSource{fill: 0x22, failAt: 5}

	res, err := Capture(testLoopConfig(fs, src, recordingHolder()))
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("Expected ErrReadTimeout, got %v", err)
	}
	if res.Reason != StopError {
		t.Errorf("Expected stop reason error, got %s", res.Reason)
	}
	if src.reads != 6 {
		t.Errorf("Expected the loop not to retry, got %d reads", src.reads)
	}

	data, _ := afero.ReadFile(fs, "/sd/mic_0001.wav")
	_, declared := readHeaderFrom(t, data)
	if int(declared) != 5*testChunkSamples*2 || len(data) != HeaderSize+int(declared) {
		t.Errorf("Expected header to declare 5 chunks, got %d in a %d byte file", declared, len(data))
	}
}

func TestCapture_MaxDuration(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &scriptedSource{fill: 0x33}
	cfg := testLoopConfig(fs, src, state.NewHolder())
	cfg.MaxDuration = 250 * time.Millisecond

	res, err := Capture(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Reason != StopDuration {
		t.Errorf("Expected stop reason duration, got %s", res.Reason)
	}
	if res.DataBytes != 500 {
		t.Errorf("Expected 500 bytes, got %d", res.DataBytes)
	}
	if res.Duration != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", res.Duration)
	}
}

func TestCapture_OpenFailure(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	src := &scriptedSource{fill: 0x01}

	_, err := Capture(testLoopConfig(fs, src, recordingHolder()))
	if err == nil {
		t.Fatal("Expected error opening read-only filesystem")
	}
	if src.reads != 0 {
		t.Errorf("Expected no reads after open failure, got %d", src.reads)
	}
}

func TestCapture_InvalidConfig(t *testing.T) {
	cfg := testLoopConfig(afero.NewMemMapFs(), &scriptedSource{}, recordingHolder())
	cfg.ChunkSamples = 0
	if _, err := Capture(cfg); err == nil {
		t.Error("Expected error for zero chunk size")
	}

	cfg = testLoopConfig(afero.NewMemMapFs(), &scriptedSource{}, recordingHolder())
	cfg.Format.BitsPerSample = 12
	if _, err := Capture(cfg); err == nil {
		t.Error("Expected error for unsupported bit depth")
	}
}

func TestSampleBuffer_TimeoutAndOverrun(t *testing.T) {
	b := newSampleBuffer(8, 1)

	if _, err := b.read(make([]byte, 4), 5*time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Expected timeout on empty buffer, got %v", err)
	}

	b.push([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if b.overrunBytes() != 2 {
		t.Errorf("Expected 2 bytes overrun, got %d", b.overrunBytes())
	}

	out := make([]byte, 16)
	n, err := b.read(out, time.Second)
	if err != nil || n != 8 || out[0] != 3 {
		t.Errorf("Expected newest 8 bytes, got n=%d first=%d err=%v", n, out[0], err)
	}

	b.close(nil)
	if _, err := b.read(out, time.Second); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Expected ErrSourceClosed, got %v", err)
	}
}

func TestSampleBuffer_WakesBlockedReader(t *testing.T) {
	b := newSampleBuffer(64, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.push([]byte{7, 7})
	}()

	out := make([]byte, 4)
	n, err := b.read(out, time.Second)
	if err != nil || n != 2 {
		t.Errorf("Expected 2 bytes, got %d (err=%v)", n, err)
	}
}

// countingSource returns at most size bytes per read, numbered from 1
type countingSource struct {
	size   int
	next   byte
	reads  int
	onRead func(i int)
}

func (s *countingSource) ReadSamples(buf []byte, timeout time.Duration) (int, error) {
	if s.onRead != nil {
		s.onRead(s.reads)
	}
	s.reads++
	n := min(s.size, len(buf))
	for j := 0; j < n; j++ {
		s.next++
		buf[j] = s.next
	}
	return n, nil
}

func TestCapture_CarriesPartialFrames(t *testing.T) {
	fs := afero.NewMemMapFs()
	holder := recordingHolder()
	src := &countingSource{size: 3, onRead: func(i int) {
		if i == 6 {
			holder.Apply(state.LongPress)
		}
	}}

	cfg := testLoopConfig(fs, src, holder)
	cfg.Format = Format{SampleRate: 1000, BitsPerSample: 32, Channels: 1}

	res, err := Capture(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.DataBytes != 20 {
		t.Fatalf("Expected 5 whole frames, got %d bytes", res.DataBytes)
	}

	data, _ := afero.ReadFile(fs, "/sd/mic_0001.wav")
	samples := data[HeaderSize:]
	for i, b := range samples {
		if b != byte(i+1) {
			t.Fatalf("Sample byte %d: expected %d, got %d (%v)", i, i+1, b, samples)
		}
	}
}

func TestSampleBuffer_ReturnsWholeFrames(t *testing.T) {
	b := newSampleBuffer(64, 4)
	out := make([]byte, 32)
	var got []byte

	pushes := [][]byte{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10, 11, 12}, {13, 14, 15, 16}}
	wantReads := []int{4, 8, 4}
	for i, p := range pushes {
		b.push(p)
		n, err := b.read(out, time.Second)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if n != wantReads[i] {
			t.Errorf("Read %d: expected %d bytes, got %d", i, wantReads[i], n)
		}
		got = append(got, out[:n]...)
	}

	for i, v := range got {
		if v != byte(i+1) {
			t.Fatalf("Expected bytes 1..16 in order, got %v", got)
		}
	}
	if len(got) != 16 {
		t.Errorf("Expected 16 bytes, got %d", len(got))
	}

	b.push([]byte{17, 18})
	if _, err := b.read(out, 5*time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Expected a partial frame to wait for the rest, got %v", err)
	}
	if _, err := b.read(make([]byte, 3), time.Millisecond); err == nil {
		t.Error("Expected a read buffer shorter than a frame to be rejected")
	}
}

func TestSampleBuffer_OverrunDropsWholeFrames(t *testing.T) {
	b := newSampleBuffer(8, 4)
	b.push([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if b.overrunBytes() != 4 {
		t.Errorf("Expected one dropped frame, got %d bytes", b.overrunBytes())
	}

	out := make([]byte, 16)
	n, err := b.read(out, time.Second)
	if err != nil || n != 4 || out[0] != 5 {
		t.Errorf("Expected frame starting at 5, got n=%d first=%d err=%v", n, out[0], err)
	}
}
