package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// PatternSource produces synthetic JPEG frames at a fixed rate.
// It replaces the camera on hosts without one and in tests.
type PatternSource struct {
	frames   [][]byte
	interval time.Duration

	// CorruptEvery strips the end marker from every Nth frame when > 0
	corruptEvery int

	mutex sync.Mutex
	next  time.Time
	count int
	now   func() time.Time
	sleep func(time.Duration)
}

// PatternConfig sizes the synthetic stream
type PatternConfig struct {
	Width        int
	Height       int
	Quality      int
	FrameRate    int
	Distinct     int
	CorruptEvery int
}

func NewPatternSource(cfg PatternConfig) (*PatternSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid pattern size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	if cfg.Distinct <= 0 {
		cfg.Distinct = 8
	}

	s := &PatternSource{
		interval:     time.Second / time.Duration(cfg.FrameRate),
		corruptEvery: cfg.CorruptEvery,
		now:          time.Now,
		sleep:        time.Sleep,
	}
	for i := 0; i < cfg.Distinct; i++ {
		data, err := renderBars(cfg.Width, cfg.Height, cfg.Quality, i*cfg.Width/cfg.Distinct)
		if err != nil {
			return nil, err
		}
		s.frames = append(s.frames, data)
	}
	return s, nil
}

// renderBars draws vertical color bars scrolled by offset pixels
func renderBars(width, height, quality, offset int) ([]byte, error) {
	bars := []color.RGBA{
		{192, 192, 192, 255}, {192, 192, 0, 255}, {0, 192, 192, 255}, {0, 192, 0, 255},
		{192, 0, 192, 255}, {192, 0, 0, 255}, {0, 0, 192, 255},
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		c := bars[((x+offset)%width)*len(bars)/width]
		for y := 0; y < height; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("failed to encode pattern frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *PatternSource) AcquireFrame(timeout time.Duration) (*Frame, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	if s.next.IsZero() {
		s.next = now
	}
	if wait := s.next.Sub(now); wait > 0 {
		if wait > timeout {
			s.sleep(timeout)
			return nil, ErrNoFrame
		}
		s.sleep(wait)
	}
	s.next = s.next.Add(s.interval)

	s.count++
	src := s.frames[(s.count-1)%len(s.frames)]
	data := append([]byte(nil), src...)
	if s.corruptEvery > 0 && s.count%s.corruptEvery == 0 {
		data = data[:len(data)-len(endMarker)]
	}
	return &Frame{Data: data, CapturedAt: now}, nil
}

func (s *PatternSource) ReleaseFrame(*Frame) {}

func (s *PatternSource) Close() error { return nil }
