package websocket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func textFrame(payload string) []byte {
	return append([]byte{0x81, byte(len(payload))}, payload...)
}

// =============================================================================
// Decode Tests
// =============================================================================

func TestDecode_TooShort(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x81}},
		{"16-bit length missing", []byte{0x81, 126}},
		{"16-bit length partial", []byte{0x81, 126, 0x01}},
		{"64-bit length partial", []byte{0x82, 127, 0, 0, 0, 0, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.buf)
			if !errors.Is(err, ErrTooShort) {
				t.Errorf("Decode() error = %v, want ErrTooShort", err)
			}
			if f != nil {
				t.Errorf("Decode() frame = %+v, want nil", f)
			}
		})
	}
}

func TestDecode_Lengths(t *testing.T) {
	ext16 := []byte{0x81, 126, 0x01, 0x00}
	ext16 = append(ext16, bytes.Repeat([]byte{'a'}, 256)...)

	ext64 := []byte{0x82, 127}
	ext64 = binary.BigEndian.AppendUint64(ext64, 3)
	ext64 = append(ext64, 'x', 'y', 'z')

	tests := []struct {
		name          string
		buf           []byte
		wantHeader    uint32
		wantLength    uint32
		wantTruncated bool
	}{
		{"zero length", []byte{0x81, 0x00}, 2, 0, false},
		{"short", textFrame("hello"), 2, 5, false},
		{"max short", append([]byte{0x81, 125}, bytes.Repeat([]byte{'a'}, 125)...), 2, 125, false},
		{"16-bit", ext16, 4, 256, false},
		{"64-bit", ext64, 10, 3, false},
		{"truncated body", []byte{0x81, 0x0A, 'a', 'b'}, 2, 10, true},
		{"16-bit header only", []byte{0x81, 126, 0x00, 0x10}, 4, 16, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.buf)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if f.HeaderLength != tt.wantHeader {
				t.Errorf("HeaderLength = %d, want %d", f.HeaderLength, tt.wantHeader)
			}
			if f.PayloadOffset != f.HeaderLength {
				t.Errorf("PayloadOffset = %d, want %d", f.PayloadOffset, f.HeaderLength)
			}
			if f.PayloadLength != tt.wantLength {
				t.Errorf("PayloadLength = %d, want %d", f.PayloadLength, tt.wantLength)
			}
			if f.Truncated != tt.wantTruncated {
				t.Errorf("Truncated = %v, want %v", f.Truncated, tt.wantTruncated)
			}
			complete := uint64(f.HeaderLength)+uint64(f.PayloadLength) <= uint64(len(tt.buf))
			if complete == f.Truncated {
				t.Errorf("Truncated = %v inconsistent with buffer length %d", f.Truncated, len(tt.buf))
			}
		})
	}
}

func TestDecode_Saturates64BitLength(t *testing.T) {
	buf := binary.BigEndian.AppendUint64([]byte{0x82, 127}, 1<<40)

	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.PayloadLength != math.MaxUint32 {
		t.Errorf("PayloadLength = %d, want %d", f.PayloadLength, uint32(math.MaxUint32))
	}
	if !f.Truncated {
		t.Error("Truncated = false, want true")
	}
	if got := f.FrameLength(); got != 10+math.MaxUint32 {
		t.Errorf("FrameLength() = %d", got)
	}
}

func TestDecode_HeaderBits(t *testing.T) {
	tests := []struct {
		name         string
		buf          []byte
		wantFin      bool
		wantReserved uint8
		wantOpcode   Opcode
		wantLength   uint32
	}{
		{"final text", []byte{0x81, 0x00}, true, 0, OpText, 0},
		{"continuation", []byte{0x00, 0x00}, false, 0, OpContinuation, 0},
		{"binary not final", []byte{0x02, 0x00}, false, 0, OpBinary, 0},
		{"close", []byte{0x88, 0x00}, true, 0, OpClose, 0},
		{"rsv bits accepted", []byte{0xF1, 0x00}, true, 7, OpText, 0},
		{"reserved opcode", []byte{0x83, 0x00}, true, 0, Opcode(3), 0},
		{"mask bit ignored", []byte{0x81, 0x85, 1, 2, 3, 4, 5}, true, 0, OpText, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.buf)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if f.Fin != tt.wantFin {
				t.Errorf("Fin = %v, want %v", f.Fin, tt.wantFin)
			}
			if f.Reserved != tt.wantReserved {
				t.Errorf("Reserved = %d, want %d", f.Reserved, tt.wantReserved)
			}
			if f.Opcode != tt.wantOpcode {
				t.Errorf("Opcode = %v, want %v", f.Opcode, tt.wantOpcode)
			}
			if f.PayloadLength != tt.wantLength {
				t.Errorf("PayloadLength = %d, want %d", f.PayloadLength, tt.wantLength)
			}
		})
	}
}

func TestFrame_Payload(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want string
	}{
		{"complete", textFrame("hello"), "hello"},
		{"trailing bytes ignored", append(textFrame("hi"), 0x81, 0x00), "hi"},
		{"truncated prefix", []byte{0x81, 0x0A, 'a', 'b'}, "ab"},
		{"header only", []byte{0x81, 0x05}, ""},
		{"empty payload", []byte{0x81, 0x00}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.buf)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := string(f.Payload(tt.buf)); got != tt.want {
				t.Errorf("Payload() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Opcode Tests
// =============================================================================

func TestOpcode_String(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpContinuation, "Continuation"},
		{OpText, "Text"},
		{OpBinary, "Binary"},
		{OpClose, "Close"},
		{OpPing, "Ping"},
		{OpPong, "Pong"},
		{Opcode(3), "Reserved"},
		{Opcode(0xF), "Reserved"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestOpcode_IsControl(t *testing.T) {
	for _, op := range []Opcode{OpClose, OpPing, OpPong} {
		if !op.IsControl() {
			t.Errorf("%v.IsControl() = false, want true", op)
		}
	}
	for _, op := range []Opcode{OpContinuation, OpText, OpBinary} {
		if op.IsControl() {
			t.Errorf("%v.IsControl() = true, want false", op)
		}
	}
}
