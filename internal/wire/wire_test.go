package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/state"
)

func payloadWith(cmd byte, bcd ...byte) []byte {
	p := make([]byte, 0, PayloadSize)
	p = append(p, DefaultPrefix[:]...)
	p = append(p, cmd, 0x00)
	p = append(p, bcd...)
	return p
}

func TestDecode_ShortPressWithTimestamp(t *testing.T) {
	cmd, err := Decode(payloadWith(0x01, 0x24, 0x01, 0x15, 0x10, 0x30, 0x45))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cmd.LongPress {
		t.Error("Expected short press")
	}
	if cmd.Kind() != state.ShortPress {
		t.Errorf("Expected ShortPress kind, got %s", cmd.Kind())
	}
	if cmd.Timestamp != "20240115_103045" {
		t.Errorf("Expected timestamp 20240115_103045, got %s", cmd.Timestamp)
	}
}

func TestDecode_LongPress(t *testing.T) {
	cmd, err := Decode(payloadWith(0x02, 0x99, 0x12, 0x31, 0x23, 0x59, 0x59))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !cmd.LongPress || cmd.Kind() != state.LongPress {
		t.Error("Expected long press")
	}
	if cmd.Timestamp != "20991231_235959" {
		t.Errorf("Unexpected timestamp %s", cmd.Timestamp)
	}
}

func TestDecode_ReservedByteIgnored(t *testing.T) {
	p := payloadWith(0x01, 0x24, 0x01, 0x15, 0x10, 0x30, 0x45)
	p[9] = 0xAB
	if _, err := Decode(p); err != nil {
		t.Errorf("Reserved byte must not affect decoding, got: %v", err)
	}
}

func TestDecode_PrefixMismatchRejected(t *testing.T) {
	for i := 0; i < PrefixSize; i++ {
		p := payloadWith(0x01, 0x24, 0x01, 0x15, 0x10, 0x30, 0x45)
		p[i] ^= 0xFF
		_, err := Decode(p)
		if !errors.Is(err, ErrBadPrefix) {
			t.Errorf("byte %d: expected ErrBadPrefix, got %v", i, err)
		}
	}
}

func TestDecode_UnknownCommandRejected(t *testing.T) {
	for _, c := range []byte{0x00, 0x03, 0xFF} {
		_, err := Decode(payloadWith(c, 0x24, 0x01, 0x15, 0x10, 0x30, 0x45))
		if !errors.Is(err, ErrBadCommand) {
			t.Errorf("command 0x%02x: expected ErrBadCommand, got %v", c, err)
		}
	}
}

func TestDecode_NonDecimalNibbleRejected(t *testing.T) {
	for pos := 0; pos < 6; pos++ {
		for _, bad := range []byte{0x1A, 0xA1, 0xFF} {
			bcd := []byte{0x24, 0x01, 0x15, 0x10, 0x30, 0x45}
			bcd[pos] = bad
			_, err := Decode(payloadWith(0x01, bcd...))
			if !errors.Is(err, ErrBadDigit) {
				t.Errorf("pos %d value 0x%02x: expected ErrBadDigit, got %v", pos, bad, err)
			}
		}
	}
}

func TestDecode_WrongLengthRejected(t *testing.T) {
	p := payloadWith(0x01, 0x24, 0x01, 0x15, 0x10, 0x30, 0x45)
	if _, err := Decode(p[:15]); !errors.Is(err, ErrLength) {
		t.Errorf("Expected ErrLength for short payload, got %v", err)
	}
	if _, err := Decode(append(p, 0x00)); !errors.Is(err, ErrLength) {
		t.Errorf("Expected ErrLength for long payload, got %v", err)
	}
}

func TestDecode_Idempotent(t *testing.T) {
	p := payloadWith(0x02, 0x24, 0x01, 0x15, 0x10, 0x30, 0x45)
	orig := append([]byte(nil), p...)

	first, err1 := Decode(p)
	second, err2 := Decode(p)
	if err1 != nil || err2 != nil || first != second {
		t.Errorf("Expected identical results, got %+v/%v and %+v/%v", first, err1, second, err2)
	}
	for i := range p {
		if p[i] != orig[i] {
			t.Fatal("Decode must not modify its input")
		}
	}
}

func TestEncode_RoundTripsThroughDecoder(t *testing.T) {
	prefix := [PrefixSize]byte{1, 2, 3, 4, 5, 6, 7, 8}
	at := time.Date(2025, time.March, 9, 7, 5, 3, 0, time.UTC)

	cmd, err := NewDecoder(prefix).Decode(Encode(prefix, true, at))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !cmd.LongPress || cmd.Timestamp != "20250309_070503" {
		t.Errorf("Unexpected command %+v", cmd)
	}

	if _, err := Decode(Encode(prefix, true, at)); !errors.Is(err, ErrBadPrefix) {
		t.Errorf("Default decoder must reject foreign prefix, got %v", err)
	}
}

func TestParsePrefix(t *testing.T) {
	prefix, err := ParsePrefix("46:43:41:50:54:52:49:47")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if prefix != DefaultPrefix {
		t.Errorf("Expected default prefix, got %x", prefix)
	}

	if _, err := ParsePrefix("4643"); err == nil {
		t.Error("Expected error for short prefix")
	}
	if _, err := ParsePrefix("zz"); err == nil {
		t.Error("Expected error for invalid hex")
	}
}
