package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrReadTimeout is returned when no samples arrive within the read timeout
var ErrReadTimeout = errors.New("audio: read timed out")

// ErrSourceClosed is returned by reads after the source has been closed
var ErrSourceClosed = errors.New("audio: source closed")

// SampleSource is the blocking-read contract of the audio bus
type SampleSource interface {
	// ReadSamples blocks until at least one byte is available or timeout elapses
	ReadSamples(buf []byte, timeout time.Duration) (int, error)
}

// sampleBuffer decouples a push-style producer (device callback, pipe reader)
// from the blocking ReadSamples contract. Reads return whole frames of block
// bytes and keep any trailing partial frame. When full the oldest frames are dropped.
type sampleBuffer struct {
	mutex   sync.Mutex
	data    []byte
	limit   int
	block   int
	overrun int64
	closed  bool
	err     error
	notify  chan struct{}
}

func newSampleBuffer(limit, block int) *sampleBuffer {
	if block <= 0 {
		block = 1
	}
	if limit < block {
		limit = block
	}
	return &sampleBuffer{
		limit:  limit - limit%block,
		block:  block,
		notify: make(chan struct{}, 1),
	}
}

func (b *sampleBuffer) push(p []byte) {
	b.mutex.Lock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		if rem := over % b.block; rem != 0 {
			over += b.block - rem
		}
		b.data = append(b.data[:0], b.data[over:]...)
		b.overrun += int64(over)
	}
	b.mutex.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *sampleBuffer) close(err error) {
	b.mutex.Lock()
	b.closed = true
	b.err = err
	b.mutex.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *sampleBuffer) read(buf []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	want := len(buf) - len(buf)%b.block
	if want == 0 {
		return 0, fmt.Errorf("audio: read buffer of %d bytes is smaller than one %d byte frame", len(buf), b.block)
	}

	for {
		b.mutex.Lock()
		if whole := len(b.data) - len(b.data)%b.block; whole > 0 {
			n := copy(buf[:want], b.data[:whole])
			b.data = append(b.data[:0], b.data[n:]...)
			b.mutex.Unlock()
			return n, nil
		}
		if b.closed {
			err := b.err
			b.mutex.Unlock()
			if err == nil {
				err = ErrSourceClosed
			}
			return 0, err
		}
		b.mutex.Unlock()

		select {
		case <-b.notify:
		case <-timer.C:
			return 0, ErrReadTimeout
		}
	}
}

func (b *sampleBuffer) overrunBytes() int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.overrun
}
