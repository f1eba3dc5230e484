// Package wire decodes the 16-byte trigger command carried in wireless advertisements.
//
// Layout:
//
//	[0:8]   fixed prefix
//	[8]     command (0x01 short press, 0x02 long press)
//	[9]     reserved
//	[10:16] packed BCD timestamp YYMMDDHHMMSS
package wire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/state"
)

const (
	PayloadSize   = 16
	PrefixSize    = 8
	commandOffset = 8
	bcdOffset     = 10
	bcdSize       = 6

	CommandShort byte = 0x01
	CommandLong  byte = 0x02
)

// DefaultPrefix is the prefix companion transmitters put in front of every command ("FCAPTRIG")
var DefaultPrefix = [PrefixSize]byte{0x46, 0x43, 0x41, 0x50, 0x54, 0x52, 0x49, 0x47}

var (
	ErrLength     = errors.New("wire: payload must be 16 bytes")
	ErrBadPrefix  = errors.New("wire: prefix mismatch")
	ErrBadCommand = errors.New("wire: unknown command byte")
	ErrBadDigit   = errors.New("wire: timestamp nibble is not a decimal digit")
)

// Command is a decoded trigger command
type Command struct {
	LongPress bool
	Timestamp string // "20YYMMDD_HHMMSS"
}

// Kind maps the command onto the press it is equivalent to
func (c Command) Kind() state.Press {
	if c.LongPress {
		return state.LongPress
	}
	return state.ShortPress
}

// Decoder validates payloads against a fixed prefix
type Decoder struct {
	prefix [PrefixSize]byte
}

// NewDecoder creates a decoder for the given prefix
func NewDecoder(prefix [PrefixSize]byte) *Decoder {
	return &Decoder{prefix: prefix}
}

// Decode decodes payload with DefaultPrefix
func Decode(payload []byte) (Command, error) {
	return NewDecoder(DefaultPrefix).Decode(payload)
}

// Decode translates one payload into a command. Invalid payloads are rejected, never approximated.
func (d *Decoder) Decode(payload []byte) (Command, error) {
	if len(payload) != PayloadSize {
		return Command{}, fmt.Errorf("%w: got %d", ErrLength, len(payload))
	}

	for i := 0; i < PrefixSize; i++ {
		if payload[i] != d.prefix[i] {
			return Command{}, ErrBadPrefix
		}
	}

	var cmd Command
	switch payload[commandOffset] {
	case CommandShort:
	case CommandLong:
		cmd.LongPress = true
	default:
		return Command{}, fmt.Errorf("%w: 0x%02x", ErrBadCommand, payload[commandOffset])
	}

	var digits [bcdSize * 2]byte
	for i := 0; i < bcdSize; i++ {
		b := payload[bcdOffset+i]
		hi, lo := b>>4, b&0x0f
		if hi > 9 || lo > 9 {
			return Command{}, fmt.Errorf("%w: byte %d is 0x%02x", ErrBadDigit, bcdOffset+i, b)
		}
		digits[2*i] = '0' + hi
		digits[2*i+1] = '0' + lo
	}
	cmd.Timestamp = "20" + string(digits[:6]) + "_" + string(digits[6:])

	return cmd, nil
}

// Encode builds a payload for the given command and time (seconds precision, years 2000-2099)
func Encode(prefix [PrefixSize]byte, long bool, at time.Time) []byte {
	payload := make([]byte, PayloadSize)
	copy(payload, prefix[:])
	payload[commandOffset] = CommandShort
	if long {
		payload[commandOffset] = CommandLong
	}

	fields := []int{at.Year() % 100, int(at.Month()), at.Day(), at.Hour(), at.Minute(), at.Second()}
	for i, v := range fields {
		payload[bcdOffset+i] = byte(v/10)<<4 | byte(v%10)
	}
	return payload
}

// ParseHex decodes a hex string (spaces and colons allowed) into raw payload bytes
func ParseHex(s string) ([]byte, error) {
	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', ':', '-':
			continue
		}
		clean = append(clean, s[i])
	}
	b, err := hex.DecodeString(string(clean))
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}

// ParsePrefix parses an 8-byte prefix from hex
func ParsePrefix(s string) ([PrefixSize]byte, error) {
	var prefix [PrefixSize]byte
	b, err := ParseHex(s)
	if err != nil {
		return prefix, err
	}
	if len(b) != PrefixSize {
		return prefix, fmt.Errorf("prefix must be %d bytes, got %d", PrefixSize, len(b))
	}
	copy(prefix[:], b)
	return prefix, nil
}
