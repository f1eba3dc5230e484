package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// ToneSource synthesizes a sine wave paced at the real sample rate.
// It stands in for a microphone on hosts without capture hardware.
type ToneSource struct {
	format    Format
	frequency float64
	amplitude float64

	mutex   sync.Mutex
	start   time.Time
	emitted int64 // frames
	phase   float64
	closed  bool
	now     func() time.Time
	sleep   func(time.Duration)
}

func NewToneSource(f Format, frequency float64) *ToneSource {
	if frequency <= 0 {
		frequency = 440
	}
	return &ToneSource{
		format:    f,
		frequency: frequency,
		amplitude: 0.25,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

func (s *ToneSource) ReadSamples(buf []byte, timeout time.Duration) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return 0, ErrSourceClosed
	}
	if s.start.IsZero() {
		s.start = s.now()
	}

	align := s.format.BlockAlign()
	frames := int64(len(buf) / align)
	if frames == 0 {
		return 0, nil
	}

	// samples are released no faster than the device clock would produce them
	due := s.start.Add(time.Duration(float64(s.emitted+frames) / float64(s.format.SampleRate) * float64(time.Second)))
	if wait := due.Sub(s.now()); wait > 0 {
		if wait > timeout {
			s.sleep(timeout)
			return 0, ErrReadTimeout
		}
		s.sleep(wait)
	}

	step := 2 * math.Pi * s.frequency / float64(s.format.SampleRate)
	width := int(s.format.BitsPerSample / 8)
	for i := int64(0); i < frames; i++ {
		v := s.amplitude * math.Sin(s.phase)
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
		for ch := 0; ch < int(s.format.Channels); ch++ {
			off := int(i)*align + ch*width
			putSample(buf[off:off+width], v)
		}
	}
	s.emitted += frames
	return int(frames) * align, nil
}

// putSample encodes v in [-1, 1] as little-endian PCM of len(dst) bytes
func putSample(dst []byte, v float64) {
	switch len(dst) {
	case 1:
		dst[0] = uint8(128 + int(v*127))
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v*math.MaxInt16)))
	case 3:
		s := int32(v * (1<<23 - 1))
		dst[0], dst[1], dst[2] = byte(s), byte(s>>8), byte(s>>16)
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v*math.MaxInt32)))
	}
}

func (s *ToneSource) Close() error {
	s.mutex.Lock()
	s.closed = true
	s.mutex.Unlock()
	return nil
}
