package protocol

import (
	"errors"
	"testing"
)

func TestFrameEncodeLayout(t *testing.T) {
	f := Frame{Opcode: OpRelative, Arg: 200, Flags: uint8(StepFull)}
	b := f.Bytes()

	expected := []byte{0xDE, 0xAD, 0x01, 0x00, 0xC8, 0x00, 0x00, 0x00, 0x00}
	for i, want := range expected {
		if b[i] != want {
			t.Errorf("byte %d: expected 0x%02X, got 0x%02X", i, want, b[i])
		}
	}
	if b[9] != CRC8(b[:9]) {
		t.Errorf("checksum byte 0x%02X does not match CRC8 0x%02X", b[9], CRC8(b[:9]))
	}
	if b[10] != 0xBE || b[11] != 0xEF {
		t.Errorf("stop marker: got %02X %02X", b[10], b[11])
	}
}

func TestDecodeFrame(t *testing.T) {
	valid := Frame{Opcode: OpSetPosition, Arg: uint32(0xFFFFFF38), Flags: 0}.Bytes() // -200

	corrupt := func(mutate func(b []byte)) []byte {
		b := valid
		mutate(b[:])
		return b[:]
	}

	testCases := []struct {
		name string
		data []byte
		err  error
	}{
		{"valid", valid[:], nil},
		{"short", valid[:FrameSize-1], ErrFrameLength},
		{"bad start", corrupt(func(b []byte) { b[0] = 0x00 }), ErrFrameStart},
		{"bad stop", corrupt(func(b []byte) { b[11] = 0x00 }), ErrFrameStop},
		{"bad checksum", corrupt(func(b []byte) { b[9] ^= 0x01 }), ErrFrameChecksum},
		{"payload flip", corrupt(func(b []byte) { b[5] ^= 0x40 }), ErrFrameChecksum},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DecodeFrame(tc.data)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected error %v, got %v", tc.err, err)
			}
			if tc.err == nil && (f.Opcode != OpSetPosition || f.Int() != -200) {
				t.Errorf("decoded %+v", f)
			}
		})
	}
}

func TestOpcodeString(t *testing.T) {
	if OpLimitStepOff.String() != "LIMIT_STEP_OFF" {
		t.Errorf("got %q", OpLimitStepOff.String())
	}
	if Opcode(99).String() != "UNKNOWN" || Opcode(99).Known() {
		t.Error("opcode 99 should be unknown")
	}
}

func TestFrameFloatArg(t *testing.T) {
	f := NewFloatFrame(OpLEDVoltage, 1.25, 0)
	b := f.Bytes()
	decoded, err := DecodeFrame(b[:])
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Float() != 1.25 {
		t.Errorf("expected 1.25, got %v", decoded.Float())
	}
}
