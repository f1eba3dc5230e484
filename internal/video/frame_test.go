package video

import (
	"bufio"
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"testing"
	"time"
)

func TestValidFrame(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"bracketed", []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}, true},
		{"markers only", []byte{0xFF, 0xD8, 0xFF, 0xD9}, true},
		{"missing end", []byte{0xFF, 0xD8, 0x01, 0x02}, false},
		{"missing start", []byte{0x00, 0xD8, 0x01, 0xFF, 0xD9}, false},
		{"overlapping markers", []byte{0xFF, 0xD8, 0xD9}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		if got := ValidFrame(tt.data); got != tt.want {
			t.Errorf("%s: ValidFrame() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPlaceholder_DecodesAtRequestedSize(t *testing.T) {
	data, err := Placeholder(64, 48, 50)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !ValidFrame(data) {
		t.Fatal("Expected placeholder to carry frame markers")
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected decodable JPEG, got: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("Expected 64x48, got %v", img.Bounds())
	}
	r, g, b, _ := img.At(10, 10).RGBA()
	if r > 0x0800 || g > 0x0800 || b > 0x0800 {
		t.Errorf("Expected a black frame, got %d,%d,%d", r, g, b)
	}
}

func TestPlaceholder_InvalidSize(t *testing.T) {
	if _, err := Placeholder(0, 480, 80); err == nil {
		t.Error("Expected error for zero width")
	}
}

func TestSplitFrames(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0x10, 0x11, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0x20, 0xFF, 0xD9}
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01, 0xFF})
	stream.Write(a)
	stream.Write([]byte{0x55})
	stream.Write(b)
	stream.Write([]byte{0xFF, 0xD8, 0x30}) // truncated

	scanner := bufio.NewScanner(&stream)
	scanner.Split(SplitFrames)

	var frames [][]byte
	for scanner.Scan() {
		frames = append(frames, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Expected no scan error, got: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], a) || !bytes.Equal(frames[1], b) {
		t.Errorf("Unexpected frames: % x", frames)
	}
}

func TestSplitFrames_SmallReads(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	stream := bytes.Repeat(frame, 3)

	scanner := bufio.NewScanner(&oneByteReader{data: stream})
	scanner.Split(SplitFrames)

	count := 0
	for scanner.Scan() {
		if !bytes.Equal(scanner.Bytes(), frame) {
			t.Errorf("frame %d: got % x", count, scanner.Bytes())
		}
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 frames, got %d", count)
	}
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestPatternSource_CorruptsEveryNth(t *testing.T) {
	src, err := NewPatternSource(PatternConfig{Width: 32, Height: 16, FrameRate: 1000, Distinct: 3, CorruptEvery: 5})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	src.sleep = func(time.Duration) {}

	for i := 1; i <= 10; i++ {
		f, err := src.AcquireFrame(time.Second)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got, want := ValidFrame(f.Data), i%5 != 0; got != want {
			t.Errorf("frame %d: valid = %v, want %v", i, got, want)
		}
		src.ReleaseFrame(f)
	}
}

func TestPatternSource_TimesOutBeforeNextFrame(t *testing.T) {
	src, err := NewPatternSource(PatternConfig{Width: 16, Height: 16, FrameRate: 1})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	base := time.Unix(100, 0)
	src.now = func() time.Time { return base }
	src.sleep = func(time.Duration) {}

	if _, err := src.AcquireFrame(10 * time.Millisecond); err != nil {
		t.Fatalf("Expected first frame immediately, got: %v", err)
	}
	if _, err := src.AcquireFrame(10 * time.Millisecond); err != ErrNoFrame {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
}

func TestWarmup(t *testing.T) {
	src := &scriptedSource{frames: repeatFrames(validFrame(1), 20)}
	if n := Warmup(src, 10, time.Millisecond); n != 10 {
		t.Errorf("Expected 10 frames discarded, got %d", n)
	}
	if src.acquired != 10 || src.released != 10 {
		t.Errorf("Expected 10 acquire/release pairs, got %d/%d", src.acquired, src.released)
	}
}

func TestNewSource_SelectsBackend(t *testing.T) {
	src, err := NewSource(context.Background(), SourceConfig{Backend: "pattern", Width: 16, Height: 16, Quality: 50, FrameRate: 100})
	if err != nil {
		t.Fatalf("Expected pattern source, got: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*PatternSource); !ok {
		t.Errorf("Expected *PatternSource, got %T", src)
	}

	if _, err := NewSource(context.Background(), SourceConfig{Backend: "gstreamer"}); err == nil {
		t.Error("Expected unknown backend to be rejected")
	}
}

func scanFrames(t *testing.T, r io.Reader, split bufio.SplitFunc) [][]byte {
	t.Helper()
	scanner := bufio.NewScanner(r)
	scanner.Split(split)
	var frames [][]byte
	for scanner.Scan() {
		frames = append(frames, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Expected no scan error, got: %v", err)
	}
	return frames
}

func TestSplitFrames_TruncatedFrameIsNotJoined(t *testing.T) {
	cut := []byte{0xFF, 0xD8, 0x01, 0x02}
	next := []byte{0xFF, 0xD8, 0x10, 0x11, 0xFF, 0xD9}
	stream := append(append([]byte(nil), cut...), next...)

	frames := scanFrames(t, bytes.NewReader(stream), SplitFrames)
	if len(frames) != 2 {
		t.Fatalf("Expected 2 tokens, got % x", frames)
	}
	if !bytes.Equal(frames[0], cut) || ValidFrame(frames[0]) {
		t.Errorf("Expected the cut frame on its own and invalid, got % x", frames[0])
	}
	if !bytes.Equal(frames[1], next) || !ValidFrame(frames[1]) {
		t.Errorf("Expected the following frame intact, got % x", frames[1])
	}
}

func TestSplitFrames_OversizedFrameResyncs(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0x20, 0xFF, 0xD9}
	stream := append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0x11}, 20)...)
	stream = append(stream, frame...)

	split := func(data []byte, atEOF bool) (int, []byte, error) {
		return splitFrames(data, atEOF, 8)
	}
	frames := scanFrames(t, &oneByteReader{data: stream}, split)
	if len(frames) != 2 {
		t.Fatalf("Expected the oversized frame and one good frame, got % x", frames)
	}
	if ValidFrame(frames[0]) {
		t.Errorf("Expected the oversized frame to be reported invalid, got % x", frames[0])
	}
	if !bytes.Equal(frames[1], frame) {
		t.Errorf("Expected scanning to resume at the next frame, got % x", frames[1])
	}
}
