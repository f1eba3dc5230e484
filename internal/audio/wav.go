package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the canonical PCM WAV header
const HeaderSize = 44

// maxDataBytes is the largest data chunk a RIFF size field can describe
const maxDataBytes = math.MaxUint32 - (HeaderSize - 8)

// Format describes the PCM stream stored in the container
type Format struct {
	SampleRate    uint32
	BitsPerSample uint16
	Channels      uint16
}

// BlockAlign is the size of one frame (one sample for every channel)
func (f Format) BlockAlign() int {
	return int(f.Channels) * int(f.BitsPerSample/8)
}

// ByteRate is the number of data bytes per second of audio
func (f Format) ByteRate() int {
	return int(f.SampleRate) * f.BlockAlign()
}

// Validate checks that the format can be written to a PCM container
func (f Format) Validate() error {
	if f.SampleRate == 0 {
		return fmt.Errorf("sample rate must be > 0")
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bits per sample must be 8, 16, 24 or 32, got %d", f.BitsPerSample)
	}
	if f.Channels == 0 {
		return fmt.Errorf("channel count must be > 0")
	}
	return nil
}

// Duration converts a data length into playback time
func (f Format) Duration(dataBytes int64) float64 {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}
	return float64(dataBytes) / float64(rate)
}

type wavHeader struct {
	RiffID        [4]byte
	RiffSize      uint32
	WaveID        [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// WriteHeader writes a 44-byte little-endian PCM header declaring dataBytes of samples
func WriteHeader(w io.Writer, f Format, dataBytes uint32) error {
	h := wavHeader{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      HeaderSize - 8 + dataBytes,
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   f.Channels,
		SampleRate:    f.SampleRate,
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: f.BitsPerSample,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataBytes,
	}
	return binary.Write(w, binary.LittleEndian, &h)
}

// RewriteHeader rewrites the header in place and leaves the offset at the end of the file
func RewriteHeader(ws io.WriteSeeker, f Format, dataBytes uint32) error {
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to header: %w", err)
	}
	if err := WriteHeader(ws, f, dataBytes); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	return nil
}

// ReadHeader parses a canonical header, returning the format and the declared data length
func ReadHeader(r io.Reader) (Format, uint32, error) {
	var h wavHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Format{}, 0, fmt.Errorf("failed to read header: %w", err)
	}
	if string(h.RiffID[:]) != "RIFF" || string(h.WaveID[:]) != "WAVE" || string(h.DataID[:]) != "data" {
		return Format{}, 0, fmt.Errorf("not a canonical PCM WAV header")
	}
	if h.RiffSize != HeaderSize-8+h.DataSize {
		return Format{}, 0, fmt.Errorf("inconsistent RIFF size %d for data size %d", h.RiffSize, h.DataSize)
	}
	f := Format{SampleRate: h.SampleRate, BitsPerSample: h.BitsPerSample, Channels: h.NumChannels}
	return f, h.DataSize, nil
}
